// Package shutdown provides graceful shutdown handling.
package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// CleanupFunc is a function called during shutdown.
type CleanupFunc func(ctx context.Context) error

type cleanup struct {
	name string
	fn   CleanupFunc
}

// Handler releases registered components when the process is asked to stop.
// Cleanups run one at a time in LIFO order, so a component registered after its
// dependencies is stopped before them.
type Handler struct {
	logger   *slog.Logger
	timeout  time.Duration
	mu       sync.Mutex
	cleanups []cleanup
	once     sync.Once
	err      error
}

// New creates a new shutdown handler.
func New(logger *slog.Logger, timeout time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, timeout: timeout}
}

// RegisterNamed adds a named cleanup function.
func (h *Handler) RegisterNamed(name string, fn CleanupFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanups = append(h.cleanups, cleanup{name: name, fn: fn})
}

// Wait blocks until a termination signal arrives or ctx is done, then runs Shutdown.
func (h *Handler) Wait(ctx context.Context) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		h.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		h.logger.Info("context done, shutting down")
	}

	return h.Shutdown()
}

// Shutdown runs every cleanup once and returns their joined errors.
func (h *Handler) Shutdown() error {
	h.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		h.mu.Lock()
		cleanups := make([]cleanup, len(h.cleanups))
		copy(cleanups, h.cleanups)
		h.mu.Unlock()

		var errs []error
		for i := len(cleanups) - 1; i >= 0; i-- {
			c := cleanups[i]
			if ctx.Err() != nil {
				h.logger.Warn("shutdown timed out, skipping component", "component", c.name)
				errs = append(errs, ctx.Err())
				continue
			}
			h.logger.Info("shutting down component", "component", c.name)
			if err := c.fn(ctx); err != nil {
				h.logger.Error("error shutting down component", "component", c.name, "error", err)
				errs = append(errs, err)
			}
		}

		h.err = errors.Join(errs...)
		h.logger.Info("graceful shutdown completed", "failed", len(errs))
	})
	return h.err
}
