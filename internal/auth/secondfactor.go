package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"volunteersync.org/internal/obs"
)

// SecondFactor issues and verifies emailed one-time codes.
type SecondFactor struct {
	identities CredentialStore
	codes      CodeStore
	notifier   Notifier
	now        func() time.Time
	random     io.Reader
	logger     *slog.Logger
}

// NewSecondFactor wires the second-factor engine.
func NewSecondFactor(identities CredentialStore, codes CodeStore, notifier Notifier, opts ...Option) (*SecondFactor, error) {
	if identities == nil || codes == nil || notifier == nil {
		return nil, oops.Code("INVALID_DEPENDENCY").Errorf("second factor: identities, codes and notifier are required")
	}
	s, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &SecondFactor{
		identities: identities,
		codes:      codes,
		notifier:   notifier,
		now:        s.now,
		random:     s.random,
		logger:     s.logger,
	}, nil
}

// IssueCode supersedes any pending code of the identity with a fresh one and
// emails it. When delivery fails the new code remains valid and
// ErrNotificationFailed is returned so the caller can retry.
func (e *SecondFactor) IssueCode(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	identity, err := e.identities.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return Fail(ErrNotFound, "operation", "issue code")
	}
	if err != nil {
		return oops.Code("CODE_ISSUE_FAILED").With("operation", "find identity").Wrap(err)
	}

	digits, err := NewNumericCode(e.random)
	if err != nil {
		return err
	}
	stored, err := e.codes.ReplaceCode(ctx, SecondFactorCode{
		IdentityID: identity.ID,
		Code:       digits,
		ExpiresAt:  e.now().Add(SecondFactorTTL),
	})
	if err != nil {
		return oops.Code("CODE_ISSUE_FAILED").With("operation", "replace code", "identity_id", identity.ID).Wrap(err)
	}
	obs.CodeIssued()

	subject, body := secondFactorMessage(digits)
	if err := e.notifier.Send(ctx, identity.Email, subject, body); err != nil {
		obs.NotificationFailed("second_factor")
		e.logger.WarnContext(ctx, "second factor delivery failed",
			"identity_id", identity.ID, "code_id", stored.ID, "error", err)
		return oops.
			Code(CodeNotificationFailed).
			With("operation", "send code", "identity_id", identity.ID).
			Public(publicMessages[ErrNotificationFailed]).
			Wrapf(ErrNotificationFailed, "deliver code: %v", err)
	}
	return nil
}

// VerifyCode reports whether code is the pending, unexpired code for email.
// Unknown emails, missing codes, mismatches and expiry all yield false; an
// expired code is deleted on the way. The error is non-nil only when the
// store fails.
func (e *SecondFactor) VerifyCode(ctx context.Context, email, code string) (bool, error) {
	identity, err := e.identities.FindByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		obs.CodeVerified(OutcomeAbsent.String())
		return false, nil
	}
	if err != nil {
		return false, oops.Code("CODE_VERIFY_FAILED").With("operation", "find identity").Wrap(err)
	}

	outcome, err := e.codes.ConsumeCode(ctx, identity.ID, code, e.now())
	if err != nil {
		return false, oops.Code("CODE_VERIFY_FAILED").With("operation", "consume code", "identity_id", identity.ID).Wrap(err)
	}
	obs.CodeVerified(outcome.String())
	if outcome == OutcomeExpired {
		e.logger.InfoContext(ctx, "expired second factor code removed", "identity_id", identity.ID)
	}
	return outcome == OutcomeAccepted, nil
}

// SweepExpired deletes codes whose expiry is before now, verified or not.
func (e *SecondFactor) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := e.codes.DeleteExpiredCodes(ctx, now)
	if err != nil {
		return 0, oops.Code("CODE_SWEEP_FAILED").With("now", now).Wrap(err)
	}
	obs.SweepDeleted("two_factor_codes", n)
	return n, nil
}
