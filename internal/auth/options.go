package auth

import (
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
)

const defaultIssuer = "volunteersync"

type settings struct {
	now           func() time.Time
	random        io.Reader
	logger        *slog.Logger
	resetLinkBase string
	issuer        string
	codeAttempts  int
	codeLockout   time.Duration
}

func defaultSettings() settings {
	return settings{
		now:           func() time.Time { return time.Now().UTC() },
		logger:        slog.Default(),
		resetLinkBase: DefaultResetLinkBase,
		issuer:        defaultIssuer,
		codeAttempts:  DefaultCodeAttempts,
		codeLockout:   DefaultCodeLockout,
	}
}

func applyOptions(opts []Option) (settings, error) {
	s := defaultSettings()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&s); err != nil {
			return settings{}, err
		}
	}
	return s, nil
}

// Option configures the engines, the session issuer and Service.
type Option func(*settings) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *settings) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithRandom overrides the entropy source for codes and reset tokens.
func WithRandom(r io.Reader) Option {
	return func(s *settings) error {
		s.random = r
		return nil
	}
}

// WithLogger sets the logger used for flow events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithResetLinkBase sets the URL the reset token is appended to.
func WithResetLinkBase(base string) Option {
	return func(s *settings) error {
		base = strings.TrimSpace(base)
		if base == "" {
			return nil
		}
		u, err := url.Parse(base)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return oops.Code("INVALID_OPTION").With("reset_link_base", base).Errorf("reset link base must be an absolute URL")
		}
		s.resetLinkBase = base
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(s *settings) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithCodeAttemptLimit locks an email out of second-factor verification for
// lockout after maxFailures consecutive wrong codes. maxFailures 0 disables it.
func WithCodeAttemptLimit(maxFailures int, lockout time.Duration) Option {
	return func(s *settings) error {
		if maxFailures < 0 || (maxFailures > 0 && lockout <= 0) {
			return oops.Code("INVALID_OPTION").
				With("max_failures", maxFailures, "lockout", lockout).
				Errorf("code attempt limit needs a non-negative count and a positive lockout")
		}
		s.codeAttempts = maxFailures
		s.codeLockout = lockout
		return nil
	}
}
