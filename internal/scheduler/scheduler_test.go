package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/crawler"
	"github.com/alqutdigital/tender-watch/pkg/logger"
)

type fakeCrawler struct {
	mu    sync.Mutex
	calls []announcement.Category
	err   error
	block chan struct{}
}

func (f *fakeCrawler) RunCrawl(ctx context.Context, c announcement.Category, opts crawler.RunOptions) (crawler.RunResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return crawler.RunResult{}, ctx.Err()
		}
	}
	return crawler.RunResult{Outcome: crawler.OutcomeCompleted}, f.err
}

func TestNewRejectsBadSpecs(t *testing.T) {
	_, err := New(&fakeCrawler{}, map[announcement.Category]string{
		announcement.BiddingAnnouncement: "every now and then",
	}, nil, 0, logger.Nop())
	assert.Error(t, err)

	_, err = New(&fakeCrawler{}, map[announcement.Category]string{"NOPE": "0 0 * * * *"}, nil, 0, logger.Nop())
	assert.Error(t, err)
}

func TestDefaultSpecsUseSeconds(t *testing.T) {
	s, err := New(&fakeCrawler{}, DefaultSpecs, nil, 0, logger.Nop())
	require.NoError(t, err)

	s.Start()
	defer s.Stop(context.Background())

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, announcement.BiddingAnnouncement, entries[0].Category)
	next := entries[0].Next.In(announcement.Location)
	assert.Zero(t, next.Hour()%3)
	assert.Zero(t, next.Minute())
	assert.Zero(t, next.Second())
}

func TestJobRunsCrawl(t *testing.T) {
	fc := &fakeCrawler{err: errors.New("boom")}
	s, err := New(fc, DefaultSpecs, nil, time.Minute, logger.Nop())
	require.NoError(t, err)

	s.job(announcement.Procurement)()
	assert.Equal(t, []announcement.Category{announcement.Procurement}, fc.calls)
}

func TestStopCancelsRunningCrawl(t *testing.T) {
	fc := &fakeCrawler{block: make(chan struct{})}
	s, err := New(fc, map[announcement.Category]string{
		announcement.BiddingAnnouncement: "@every 1s",
	}, nil, 0, logger.Nop())
	require.NoError(t, err)
	s.Start()

	require.Eventually(t, func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return len(fc.calls) > 0
	}, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
