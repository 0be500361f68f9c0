package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"volunteersync.org/internal/auth"
)

// RetryPolicy bounds redelivery. Attempts counts retries after the first try.
type RetryPolicy struct {
	Attempts uint64
	Base     time.Duration
	Max      time.Duration
}

// Retrying redelivers through next until it succeeds, a permanent error is
// returned, the retries run out or ctx ends.
type Retrying struct {
	next   auth.Notifier
	policy RetryPolicy
	logger *slog.Logger
}

func NewRetrying(next auth.Notifier, policy RetryPolicy, logger *slog.Logger) *Retrying {
	if policy.Base <= 0 {
		policy.Base = 200 * time.Millisecond
	}
	if policy.Max <= 0 {
		policy.Max = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{next: next, policy: policy, logger: logger.With("component", "notify")}
}

func (r *Retrying) backoff() retry.Backoff {
	b := retry.NewExponential(r.policy.Base)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithCappedDuration(r.policy.Max, b)
	return retry.WithMaxRetries(r.policy.Attempts, b)
}

func (r *Retrying) Send(ctx context.Context, to, subject, body string) error {
	attempt := 0
	return retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		attempt++
		err := r.next.Send(ctx, to, subject, body)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) || ctx.Err() != nil {
			return err
		}
		r.logger.WarnContext(ctx, "email delivery failed, retrying", "attempt", attempt, "subject", subject, "error", err)
		return retry.RetryableError(err)
	})
}
