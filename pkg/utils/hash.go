package utils

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashOrRead returns the bcrypt hash the query API checks bearer tokens against. The static
// QUERY_API_TOKEN may be configured in clear or already hashed; a bcrypt hash is returned
// unchanged so operators can keep the clear token out of the environment.
func HashOrRead(token string) ([]byte, error) {
	if strings.HasPrefix(token, "$2a$") || strings.HasPrefix(token, "$2b$") || strings.HasPrefix(token, "$2y$") {
		return []byte(token), nil // already bcrypt
	}
	return bcrypt.GenerateFromPassword([]byte(token), 10)
}
