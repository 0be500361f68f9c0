package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBcryptHasher(t *testing.T) {
	h := BcryptHasher{Cost: 4}

	hash, err := h.Hash("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)

	ok, err := h.Verify("hunter2", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("hunter3", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.Verify("hunter2", "")
	require.Error(t, err)
}

func TestBcryptHasherRejects(t *testing.T) {
	h := BcryptHasher{Cost: 4}

	_, err := h.Hash("")
	require.ErrorIs(t, err, ErrValidationFailed)

	_, err = h.Hash(strings.Repeat("x", 73))
	require.ErrorIs(t, err, ErrValidationFailed)
	assert.Equal(t, "password must be at most 72 bytes", PublicMessage(err))
}
