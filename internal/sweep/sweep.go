// Package sweep periodically removes expired second-factor codes and reset
// tokens.
package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"volunteersync.org/internal/auth"
	"volunteersync.org/internal/errutil"
)

// Sweeper is the part of auth.Service the worker drives.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (auth.SweepResult, error)
}

// Worker runs Sweep on a fixed interval until stopped.
type Worker struct {
	target   Sweeper
	interval time.Duration
	logger   *slog.Logger
	clock    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(w *Worker) {
		if clock != nil {
			w.clock = clock
		}
	}
}

func NewWorker(target Sweeper, interval time.Duration, opts ...Option) *Worker {
	w := &Worker{
		target:   target,
		interval: interval,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "sweep")
	return w
}

// RunOnce performs a single sweep.
func (w *Worker) RunOnce(ctx context.Context) (auth.SweepResult, error) {
	res, err := w.target.Sweep(ctx, w.clock())
	if err != nil {
		return res, err
	}
	if res.Codes > 0 || res.Resets > 0 {
		w.logger.InfoContext(ctx, "expired credentials removed", "codes", res.Codes, "reset_tokens", res.Resets)
	}
	return res, nil
}

// Start launches the loop. A non-positive interval leaves the worker idle.
func (w *Worker) Start(ctx context.Context) {
	if w.interval <= 0 {
		w.logger.InfoContext(ctx, "sweeper disabled")
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop cancels the loop and waits for an in-flight sweep to return.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
				errutil.LogError(ctx, w.logger, "sweep failed", err)
			}
		}
	}
}
