package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volunteersync.org/internal/auth"
	"volunteersync.org/internal/errutil"
)

func newSecondFactor(t *testing.T, f *fixture) *auth.SecondFactor {
	t.Helper()
	sf, err := auth.NewSecondFactor(f.store, f.store, f.mail, auth.WithClock(f.clock.Now))
	require.NoError(t, err)
	return sf
}

func TestIssueCodeUnknownEmail(t *testing.T) {
	f := newFixture(t)
	sf := newSecondFactor(t, f)

	err := sf.IssueCode(context.Background(), "nobody@example.com")
	require.ErrorIs(t, err, auth.ErrNotFound)
	errutil.AssertErrorCode(t, err, auth.CodeNotFound)
	assert.Zero(t, f.mail.count())
}

func TestIssueCodeSupersedesPending(t *testing.T) {
	f := newFixture(t)
	sf := newSecondFactor(t, f)
	ctx := context.Background()

	require.NoError(t, sf.IssueCode(ctx, userEmail))
	first := f.mail.lastCode(t)
	require.NoError(t, sf.IssueCode(ctx, upper(userEmail)))
	second := f.mail.lastCode(t)

	codes := f.store.Codes(f.user.ID)
	require.Len(t, codes, 1)
	assert.Equal(t, second, codes[0].Code)
	assert.Equal(t, f.clock.Now().Add(auth.SecondFactorTTL), codes[0].ExpiresAt)

	if first != second {
		ok, err := sf.VerifyCode(ctx, userEmail, first)
		require.NoError(t, err)
		assert.False(t, ok, "superseded code must not verify")
	}
	ok, err := sf.VerifyCode(ctx, userEmail, second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyCodeSingleUse(t *testing.T) {
	f := newFixture(t)
	sf := newSecondFactor(t, f)
	ctx := context.Background()

	require.NoError(t, sf.IssueCode(ctx, userEmail))
	code := f.mail.lastCode(t)

	ok, err := sf.VerifyCode(ctx, userEmail, wrongCode(code))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = sf.VerifyCode(ctx, userEmail, code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = sf.VerifyCode(ctx, userEmail, code)
	require.NoError(t, err)
	assert.False(t, ok, "verified code must not verify twice")

	codes := f.store.Codes(f.user.ID)
	require.Len(t, codes, 1)
	assert.True(t, codes[0].Verified)
}

func TestVerifyCodeExpiryDeletesCode(t *testing.T) {
	f := newFixture(t)
	sf := newSecondFactor(t, f)
	ctx := context.Background()

	require.NoError(t, sf.IssueCode(ctx, userEmail))
	code := f.mail.lastCode(t)

	f.clock.Advance(auth.SecondFactorTTL)
	ok, err := sf.VerifyCode(ctx, userEmail, code)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.store.Codes(f.user.ID))
}

func TestVerifyCodeJustBeforeExpiry(t *testing.T) {
	f := newFixture(t)
	sf := newSecondFactor(t, f)
	ctx := context.Background()

	require.NoError(t, sf.IssueCode(ctx, userEmail))
	code := f.mail.lastCode(t)

	f.clock.Advance(auth.SecondFactorTTL - 1)
	ok, err := sf.VerifyCode(ctx, userEmail, code)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyCodeUnknownEmail(t *testing.T) {
	f := newFixture(t)
	sf := newSecondFactor(t, f)

	ok, err := sf.VerifyCode(context.Background(), "ghost@example.com", "123456")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIssueCodeNotificationFailureKeepsCode(t *testing.T) {
	f := newFixture(t)
	sf := newSecondFactor(t, f)
	ctx := context.Background()
	f.mail.failWith(errors.New("smtp: connection refused"))

	err := sf.IssueCode(ctx, userEmail)
	require.ErrorIs(t, err, auth.ErrNotificationFailed)
	errutil.AssertErrorCode(t, err, auth.CodeNotificationFailed)
	errutil.AssertPublic(t, err, "could not deliver email, please retry")

	code := f.mail.lastCode(t)
	require.Len(t, f.store.Codes(f.user.ID), 1)

	ok, err := sf.VerifyCode(ctx, userEmail, code)
	require.NoError(t, err)
	assert.True(t, ok, "code persisted before delivery failure stays valid")
}

func TestSweepExpiredCodes(t *testing.T) {
	f := newFixture(t)
	sf := newSecondFactor(t, f)
	ctx := context.Background()

	require.NoError(t, sf.IssueCode(ctx, userEmail))
	n, err := sf.SweepExpired(ctx, f.clock.Now().Add(auth.SecondFactorTTL))
	require.NoError(t, err)
	assert.Zero(t, n, "a code expiring exactly at now is left for the next sweep")

	n, err = sf.SweepExpired(ctx, f.clock.Now().Add(auth.SecondFactorTTL+1))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Empty(t, f.store.Codes(f.user.ID))
}

func TestNewSecondFactorRequiresDependencies(t *testing.T) {
	_, err := auth.NewSecondFactor(nil, nil, nil)
	require.Error(t, err)
}
