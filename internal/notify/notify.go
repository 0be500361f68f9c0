// Package notify delivers the emails the identity flows send.
//
// SMTP talks to a mail relay through go-mail, Log writes messages to the
// structured log for local development, and Retrying wraps either with an
// exponential backoff.
package notify

import (
	"context"
	"errors"

	"volunteersync.org/internal/auth"
)

// ErrPermanent marks delivery failures that retrying cannot fix, such as a
// malformed recipient address.
var ErrPermanent = errors.New("notify: permanent failure")

// Func adapts a plain function to auth.Notifier.
type Func func(ctx context.Context, to, subject, body string) error

func (f Func) Send(ctx context.Context, to, subject, body string) error {
	return f(ctx, to, subject, body)
}

var _ auth.Notifier = Func(nil)
