package auth

import (
	"context"
	"time"
)

// CredentialStore exposes the identity records the auth flows read and update.
type CredentialStore interface {
	// FindByEmail returns ErrNotFound when no identity has the (normalized) email.
	FindByEmail(ctx context.Context, email string) (Identity, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	UpdatePasswordHash(ctx context.Context, identityID int64, hash string) error
}

// CodeStore persists second-factor codes.
type CodeStore interface {
	// ReplaceCode deletes every unverified code of code.IdentityID and inserts
	// code, atomically. The stored row is returned with its ID set.
	ReplaceCode(ctx context.Context, code SecondFactorCode) (SecondFactorCode, error)
	// ConsumeCode locks the pending code of the identity, applies
	// SecondFactorCode.Check and persists the result: expired rows are
	// deleted, accepted rows are marked verified.
	ConsumeCode(ctx context.Context, identityID int64, submitted string, now time.Time) (CodeOutcome, error)
	DeleteExpiredCodes(ctx context.Context, now time.Time) (int64, error)
}

// ResetStore persists password reset tokens.
type ResetStore interface {
	// ReplaceResetToken deletes any token of tok.IdentityID and inserts tok, atomically.
	ReplaceResetToken(ctx context.Context, tok ResetToken) (ResetToken, error)
	// RedeemResetToken locks the token row, applies ResetToken.Redeemable and,
	// when redeemable, stores passwordHash on the identity and marks the token
	// used in the same transaction. It returns the identity id.
	RedeemResetToken(ctx context.Context, token, passwordHash string, now time.Time) (int64, error)
	DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
}
