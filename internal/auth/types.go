package auth

import (
	"crypto/subtle"
	"strings"
	"time"
)

const (
	// SecondFactorTTL bounds how long an emailed code stays redeemable.
	SecondFactorTTL = 10 * time.Minute
	// ResetTokenTTL bounds how long a password reset link stays redeemable.
	ResetTokenTTL = time.Hour
	// SessionTTL is the lifetime of an issued bearer token.
	SessionTTL = 10 * time.Hour
)

// Identity is the credential view of a registered volunteer.
type Identity struct {
	ID           int64
	Email        string
	PasswordHash string
	Role         Role
	VillageID    int64
}

// SecondFactorCode is a one-time code emailed after a successful password check.
type SecondFactorCode struct {
	ID         int64
	IdentityID int64
	Code       string
	ExpiresAt  time.Time
	Verified   bool
}

// CodeOutcome is the result of checking a submitted code against the pending one.
type CodeOutcome int

const (
	OutcomeAbsent CodeOutcome = iota
	OutcomeMismatch
	OutcomeExpired
	OutcomeAccepted
)

func (o CodeOutcome) String() string {
	switch o {
	case OutcomeMismatch:
		return "mismatch"
	case OutcomeExpired:
		return "expired"
	case OutcomeAccepted:
		return "accepted"
	default:
		return "absent"
	}
}

// Check decides what a verification attempt does to the pending code.
// Expired codes are reported as expired even when the digits match.
func (c SecondFactorCode) Check(submitted string, now time.Time) CodeOutcome {
	if c.Verified {
		return OutcomeAbsent
	}
	if !now.Before(c.ExpiresAt) {
		return OutcomeExpired
	}
	if subtle.ConstantTimeCompare([]byte(c.Code), []byte(strings.TrimSpace(submitted))) != 1 {
		return OutcomeMismatch
	}
	return OutcomeAccepted
}

// ResetToken is a single-use password reset credential.
type ResetToken struct {
	ID         int64
	IdentityID int64
	Token      string
	ExpiresAt  time.Time
	Used       bool
}

// Redeemable reports why the token cannot be redeemed at now, or nil.
// Expiry is checked first: an expired token is expired whether or not it was used.
func (t ResetToken) Redeemable(now time.Time) error {
	if !now.Before(t.ExpiresAt) {
		return ErrTokenExpired
	}
	if t.Used {
		return ErrTokenAlreadyUsed
	}
	return nil
}

// Challenge is returned by a successful password check.
type Challenge struct {
	Email             string
	RequiresTwoFactor bool
}

// Session is an issued bearer token.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// NormalizeEmail lower-cases and trims an address for lookups and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
