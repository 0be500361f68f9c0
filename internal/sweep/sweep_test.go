package sweep

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"volunteersync.org/internal/auth"
)

type recorder struct {
	mu    sync.Mutex
	calls []time.Time
	res   auth.SweepResult
	err   error
	hit   chan struct{}
}

func (r *recorder) Sweep(_ context.Context, now time.Time) (auth.SweepResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, now)
	r.mu.Unlock()
	if r.hit != nil {
		select {
		case r.hit <- struct{}{}:
		default:
		}
	}
	return r.res, r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestRunOnceUsesClock(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	rec := &recorder{res: auth.SweepResult{Codes: 2, Resets: 1}}
	w := NewWorker(rec, time.Minute,
		WithClock(func() time.Time { return at }),
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	res, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, auth.SweepResult{Codes: 2, Resets: 1}, res)
	assert.Equal(t, []time.Time{at}, rec.calls)
	assert.Contains(t, buf.String(), "expired credentials removed")
}

func TestRunOncePropagatesError(t *testing.T) {
	rec := &recorder{err: errors.New("db down")}
	w := NewWorker(rec, time.Minute, WithLogger(slog.New(slog.DiscardHandler)))

	_, err := w.RunOnce(context.Background())
	require.EqualError(t, err, "db down")
}

func TestWorkerTicksUntilStopped(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recorder{hit: make(chan struct{}, 1), err: errors.New("transient")}
	w := NewWorker(rec, 5*time.Millisecond, WithLogger(slog.New(slog.DiscardHandler)))
	w.Start(context.Background())

	for i := 0; i < 2; i++ {
		select {
		case <-rec.hit:
		case <-time.After(2 * time.Second):
			t.Fatal("sweeper did not tick")
		}
	}
	w.Stop()
	assert.GreaterOrEqual(t, rec.count(), 2, "errors do not stop the loop")
}

func TestWorkerStopsWithParentContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(&recorder{}, time.Hour, WithLogger(slog.New(slog.DiscardHandler)))
	w.Start(ctx)
	cancel()
	w.Stop()
}

func TestWorkerDisabled(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recorder{}
	w := NewWorker(rec, 0, WithLogger(slog.New(slog.DiscardHandler)))
	w.Start(context.Background())
	w.Stop()
	assert.Zero(t, rec.count())
}
