package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"

	"volunteersync.org/internal/ids"
)

// MinSecretLength is the shortest HS256 key accepted.
const MinSecretLength = 32

// Claims represents JWT claims carried by a session token.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// SessionIssuer mints and validates HS256 session tokens. The key is copied
// at construction and never changes afterwards.
type SessionIssuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewSessionIssuer builds an issuer around the provisioned secret.
func NewSessionIssuer(secret []byte, opts ...Option) (*SessionIssuer, error) {
	if len(secret) < MinSecretLength {
		return nil, oops.Code("INVALID_SECRET").With("length", len(secret)).
			Errorf("session secret must be at least %d bytes", MinSecretLength)
	}
	s, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &SessionIssuer{secret: key, issuer: s.issuer, now: s.now}, nil
}

// Issue signs a token for email carrying role, valid for SessionTTL.
func (i *SessionIssuer) Issue(email string, role Role) (Session, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return Session{}, Invalid("subject email is required", "field", "email")
	}
	if !role.Valid() {
		return Session{}, Invalid("unknown role", "role", string(role))
	}

	now := i.now().Truncate(time.Second)
	exp := now.Add(SessionTTL)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        ids.New(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Session{}, oops.Code("TOKEN_SIGN_FAILED").Wrap(err)
	}
	return Session{Token: signed, ExpiresAt: exp}, nil
}

// Validate reports whether token is correctly signed, unexpired and issued
// to expectedSubject.
func (i *SessionIssuer) Validate(token, expectedSubject string) bool {
	claims, err := i.Authenticate(token)
	if err != nil {
		return false
	}
	return claims.Subject == NormalizeEmail(expectedSubject)
}

// Authenticate verifies signature, issuer and expiry and returns the claims.
func (i *SessionIssuer) Authenticate(token string) (*Claims, error) {
	claims, err := i.parse(token,
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, Fail(ErrInvalidToken, "operation", "authenticate")
	}
	if strings.TrimSpace(claims.Subject) == "" || !claims.Role.Valid() {
		return nil, Fail(ErrInvalidToken, "operation", "authenticate")
	}
	return claims, nil
}

// ExtractSubject returns the subject of a correctly signed token, expired or not.
func (i *SessionIssuer) ExtractSubject(token string) (string, error) {
	claims, err := i.parse(token, jwt.WithoutClaimsValidation())
	if err != nil {
		return "", Fail(ErrMalformedToken, "operation", "extract subject")
	}
	return claims.Subject, nil
}

// ExtractExpiry returns the expiry of a correctly signed token, expired or not.
func (i *SessionIssuer) ExtractExpiry(token string) (time.Time, error) {
	claims, err := i.parse(token, jwt.WithoutClaimsValidation())
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, Fail(ErrMalformedToken, "operation", "extract expiry")
	}
	return claims.ExpiresAt.Time, nil
}

func (i *SessionIssuer) parse(token string, opts ...jwt.ParserOption) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMalformedToken
	}
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrMalformedToken
		}
		return i.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformedToken
	}
	return claims, nil
}
