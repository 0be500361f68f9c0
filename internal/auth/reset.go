package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"

	"volunteersync.org/internal/obs"
)

// PasswordReset runs the forgot-password / reset-password flow.
type PasswordReset struct {
	identities CredentialStore
	tokens     ResetStore
	hasher     Hasher
	notifier   Notifier
	now        func() time.Time
	random     io.Reader
	logger     *slog.Logger
	linkBase   string
}

// NewPasswordReset wires the reset engine.
func NewPasswordReset(identities CredentialStore, tokens ResetStore, hasher Hasher, notifier Notifier, opts ...Option) (*PasswordReset, error) {
	if identities == nil || tokens == nil || hasher == nil || notifier == nil {
		return nil, oops.Code("INVALID_DEPENDENCY").Errorf("password reset: identities, tokens, hasher and notifier are required")
	}
	s, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &PasswordReset{
		identities: identities,
		tokens:     tokens,
		hasher:     hasher,
		notifier:   notifier,
		now:        s.now,
		random:     s.random,
		logger:     s.logger,
		linkBase:   s.resetLinkBase,
	}, nil
}

// RequestReset replaces the identity's reset token with a new one and emails
// the reset link. A delivery failure leaves the new token valid and returns
// ErrNotificationFailed.
func (e *PasswordReset) RequestReset(ctx context.Context, email string) error {
	identity, err := e.identities.FindByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		obs.ResetOutcome("unknown_email")
		return Fail(ErrNotFound, "operation", "request reset")
	}
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").With("operation", "find identity").Wrap(err)
	}

	token, err := NewResetToken(e.random)
	if err != nil {
		return err
	}
	if _, err := e.tokens.ReplaceResetToken(ctx, ResetToken{
		IdentityID: identity.ID,
		Token:      token,
		ExpiresAt:  e.now().Add(ResetTokenTTL),
	}); err != nil {
		return oops.Code("RESET_REQUEST_FAILED").With("operation", "replace token", "identity_id", identity.ID).Wrap(err)
	}
	obs.ResetOutcome("requested")

	subject, body := resetMessage(e.linkBase, token)
	if err := e.notifier.Send(ctx, identity.Email, subject, body); err != nil {
		obs.NotificationFailed("password_reset")
		e.logger.WarnContext(ctx, "reset link delivery failed", "identity_id", identity.ID, "error", err)
		return oops.
			Code(CodeNotificationFailed).
			With("operation", "send reset link", "identity_id", identity.ID).
			Public(publicMessages[ErrNotificationFailed]).
			Wrapf(ErrNotificationFailed, "deliver reset link: %v", err)
	}
	return nil
}

// ResetPassword redeems token and stores the new password. The password
// update and the used flag are written in one transaction by the store.
func (e *PasswordReset) ResetPassword(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		obs.ResetOutcome("invalid_token")
		return Fail(ErrInvalidToken, "operation", "reset password")
	}
	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	identityID, err := e.tokens.RedeemResetToken(ctx, token, hash, e.now())
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidToken):
		obs.ResetOutcome("invalid_token")
		return Fail(ErrInvalidToken, "operation", "reset password")
	case errors.Is(err, ErrTokenExpired):
		obs.ResetOutcome("expired")
		return Fail(ErrTokenExpired, "operation", "reset password")
	case errors.Is(err, ErrTokenAlreadyUsed):
		obs.ResetOutcome("already_used")
		return Fail(ErrTokenAlreadyUsed, "operation", "reset password")
	default:
		return oops.Code("RESET_PASSWORD_FAILED").With("operation", "redeem token").Wrap(err)
	}
	obs.ResetOutcome("redeemed")
	e.logger.InfoContext(ctx, "password reset", "identity_id", identityID)
	return nil
}

// SweepExpired deletes reset tokens whose expiry is before now.
func (e *PasswordReset) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := e.tokens.DeleteExpiredResetTokens(ctx, now)
	if err != nil {
		return 0, oops.Code("RESET_SWEEP_FAILED").With("now", now).Wrap(err)
	}
	obs.SweepDeleted("password_reset_tokens", n)
	return n, nil
}
