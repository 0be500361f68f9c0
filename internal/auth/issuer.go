package auth

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

var codeSpace = big.NewInt(1_000_000)

// NewNumericCode draws a uniform integer in [0, 999999] from r and
// zero-pads it to six digits. r is crypto/rand.Reader outside tests.
func NewNumericCode(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	n, err := rand.Int(r, codeSpace)
	if err != nil {
		return "", oops.Code("CODE_GENERATION_FAILED").Wrap(err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// NewResetToken returns an opaque random (v4) UUID with 122 bits of entropy.
func NewResetToken(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	id, err := uuid.NewRandomFromReader(r)
	if err != nil {
		return "", oops.Code("TOKEN_GENERATION_FAILED").Wrap(err)
	}
	return id.String(), nil
}
