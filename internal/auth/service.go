package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"volunteersync.org/internal/obs"
)

var tracer = otel.Tracer("volunteersync.org/internal/auth")

// Deps are the collaborators Service composes.
type Deps struct {
	Identities CredentialStore
	Codes      CodeStore
	Resets     ResetStore
	Hasher     Hasher
	Notifier   Notifier
	Secret     []byte
}

// Service drives login → second factor → session and forgot → reset.
// Steps are correlated by email only; no server-side login state exists
// beyond the pending second-factor code.
type Service struct {
	identities CredentialStore
	hasher     Hasher
	factor     *SecondFactor
	resets     *PasswordReset
	sessions   *SessionIssuer
	attempts   *attemptLimiter
	now        func() time.Time
	logger     *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// SweepResult counts rows removed by Sweep.
type SweepResult struct {
	Codes  int64
	Resets int64
}

// NewService constructs Service with optional configuration.
func NewService(d Deps, opts ...Option) (*Service, error) {
	if d.Hasher == nil {
		d.Hasher = NewBcryptHasher()
	}
	s, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	factor, err := NewSecondFactor(d.Identities, d.Codes, d.Notifier, opts...)
	if err != nil {
		return nil, err
	}
	resets, err := NewPasswordReset(d.Identities, d.Resets, d.Hasher, d.Notifier, opts...)
	if err != nil {
		return nil, err
	}
	sessions, err := NewSessionIssuer(d.Secret, opts...)
	if err != nil {
		return nil, err
	}
	return &Service{
		identities: d.Identities,
		hasher:     d.Hasher,
		factor:     factor,
		resets:     resets,
		sessions:   sessions,
		attempts:   newAttemptLimiter(s.codeAttempts, s.codeLockout),
		now:        s.now,
		logger:     s.logger,
	}, nil
}

// Sessions exposes the session issuer to the HTTP authentication middleware.
func (s *Service) Sessions() *SessionIssuer { return s.sessions }

// Login checks the password and, on success, emails a second-factor code.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (Challenge, error) {
	ctx, span := tracer.Start(ctx, "auth.Login")
	var err error
	defer func() { endSpan(span, err) }()

	email = NormalizeEmail(email)
	identity, lookupErr := s.identities.FindByEmail(ctx, email)
	hash := identity.PasswordHash
	switch {
	case lookupErr == nil:
	case errors.Is(lookupErr, ErrNotFound):
		hash = s.dummy()
	default:
		err = oops.Code("LOGIN_FAILED").With("operation", "find identity").Wrap(lookupErr)
		return Challenge{}, err
	}

	ok, verifyErr := s.hasher.Verify(password, hash)
	if verifyErr != nil && lookupErr == nil {
		err = oops.Code("LOGIN_FAILED").With("operation", "verify password").Wrap(verifyErr)
		return Challenge{}, err
	}
	if lookupErr != nil || !ok {
		obs.LoginAttempt("invalid_credentials")
		err = Fail(ErrInvalidCredentials, "operation", "login")
		return Challenge{}, err
	}

	if err = s.factor.IssueCode(ctx, email); err != nil {
		return Challenge{}, err
	}
	obs.LoginAttempt("challenged")
	s.logger.InfoContext(ctx, "second factor challenge issued", "identity_id", identity.ID)
	return Challenge{Email: email, RequiresTwoFactor: true}, nil
}

// VerifyTwoFactor completes a login by redeeming the emailed code.
func (s *Service) VerifyTwoFactor(ctx context.Context, email, code string) (Session, error) {
	ctx, span := tracer.Start(ctx, "auth.VerifyTwoFactor")
	var err error
	defer func() { endSpan(span, err) }()

	email = NormalizeEmail(email)
	if wait := s.attempts.lockedFor(email, s.now()); wait > 0 {
		obs.CodeVerified("locked_out")
		err = Fail(ErrTooManyAttempts, "operation", "verify two factor", "retry_after", wait)
		return Session{}, err
	}
	ok, verr := s.factor.VerifyCode(ctx, email, code)
	if verr != nil {
		err = verr
		return Session{}, err
	}
	if !ok {
		if s.attempts.fail(email, s.now()) {
			s.logger.WarnContext(ctx, "second factor locked after repeated failures")
		}
		err = Fail(ErrInvalidOrExpiredCode, "operation", "verify two factor")
		return Session{}, err
	}
	s.attempts.succeed(email)

	identity, lerr := s.identities.FindByEmail(ctx, email)
	if lerr != nil {
		err = oops.Code("SESSION_ISSUE_FAILED").With("operation", "find identity").Wrap(lerr)
		return Session{}, err
	}
	session, ierr := s.sessions.Issue(identity.Email, identity.Role)
	if ierr != nil {
		err = ierr
		return Session{}, err
	}
	obs.LoginAttempt("authenticated")
	return session, nil
}

// ForgotPassword emails a reset link to a registered address.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	ctx, span := tracer.Start(ctx, "auth.ForgotPassword")
	err := s.resets.RequestReset(ctx, email)
	endSpan(span, err)
	return err
}

// ResetPassword redeems a reset token.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	ctx, span := tracer.Start(ctx, "auth.ResetPassword")
	err := s.resets.ResetPassword(ctx, token, newPassword)
	endSpan(span, err)
	return err
}

// Me returns the identity behind an authenticated subject.
func (s *Service) Me(ctx context.Context, email string) (Identity, error) {
	identity, err := s.identities.FindByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return Identity{}, Fail(ErrNotFound, "operation", "me")
	}
	if err != nil {
		return Identity{}, oops.Code("IDENTITY_LOOKUP_FAILED").Wrap(err)
	}
	return identity, nil
}

// Sweep removes expired codes and reset tokens and forgets served lockouts.
// Both tables are swept even when one fails; the errors are joined.
func (s *Service) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	var codeErr, resetErr error
	res.Codes, codeErr = s.factor.SweepExpired(ctx, now)
	res.Resets, resetErr = s.resets.SweepExpired(ctx, now)
	s.attempts.prune(now)
	return res, errors.Join(codeErr, resetErr)
}

// dummy returns a hash of a random password, computed once, so that unknown
// emails still pay for a bcrypt comparison.
func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		buf := make([]byte, 16)
		_, _ = rand.Read(buf)
		h, err := s.hasher.Hash(hex.EncodeToString(buf))
		if err != nil {
			s.logger.Error("dummy hash generation failed", "error", err)
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, PublicMessage(err))
	}
	span.End()
}
