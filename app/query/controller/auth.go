package controller

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AuthEnabled reports whether the data routes require a bearer token.
func (c *Controller) AuthEnabled() bool {
	return len(c.App.JWTSecret) > 0 || len(c.App.APITokenHash) > 0
}

// bearerToken reads the Authorization header, falling back to the token query parameter
// for websocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// ValidateToken accepts the static API token or an unexpired HS256 JWT.
func (c *Controller) ValidateToken(token string) bool {
	if token == "" {
		return false
	}
	if len(c.App.APITokenHash) > 0 && bcrypt.CompareHashAndPassword(c.App.APITokenHash, []byte(token)) == nil {
		return true
	}
	if len(c.App.JWTSecret) == 0 {
		return false
	}
	tok, err := jwt.Parse(token, func(*jwt.Token) (any, error) { return c.App.JWTSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return err == nil && tok.Valid
}

// RequireAuth middleware
func (c *Controller) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.AuthEnabled() || c.ValidateToken(bearerToken(r)) {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized")
	})
}
