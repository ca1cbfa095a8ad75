package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	log.Info("sending", "secret", "s3cr3t", "webhook", "https://oapi.dingtalk.com/robot/send?access_token=x")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "***REDACTED***", entry["secret"])
	assert.Equal(t, "***REDACTED***", entry["webhook"])
}

func TestWithContextAddsRunFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	ctx := ContextWithRun(context.Background(), "run-1", "BIDDING_ANNOUNCEMENT")
	log.WithContext(ctx).WithComponent("crawler").WithError(errors.New("boom")).Warn("nav failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "BIDDING_ANNOUNCEMENT", entry["category"])
	assert.Equal(t, "crawler", entry["component"])
	assert.Equal(t, "boom", entry["error"])
}
