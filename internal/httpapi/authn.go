package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"volunteersync.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// protect authenticates the bearer token and requires capability c.
func (a *API) protect(c auth.Capability, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="volunteersync"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.auth.Sessions().Authenticate(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="volunteersync", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		principal := auth.PrincipalFromClaims(claims)
		if err := auth.Authorize(principal.Role, c); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
