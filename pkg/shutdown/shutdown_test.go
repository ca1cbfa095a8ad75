package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownRunsInReverseOrder(t *testing.T) {
	h := New(nil, time.Second)

	var order []string
	for _, name := range []string{"database", "nats", "http-server"} {
		name := name
		h.RegisterNamed(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, h.Shutdown())
	assert.Equal(t, []string{"http-server", "nats", "database"}, order)
}

func TestShutdownJoinsErrorsAndRunsOnce(t *testing.T) {
	h := New(nil, time.Second)
	boom := errors.New("boom")
	calls := 0
	h.RegisterNamed("redis", func(ctx context.Context) error {
		calls++
		return boom
	})

	err := h.Shutdown()
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, h.Shutdown(), boom)
	assert.Equal(t, 1, calls)
}

func TestWaitReturnsOnContextDone(t *testing.T) {
	h := New(nil, time.Second)
	stopped := false
	h.RegisterNamed("scheduler", func(ctx context.Context) error {
		stopped = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.Wait(ctx))
	assert.True(t, stopped)
}
