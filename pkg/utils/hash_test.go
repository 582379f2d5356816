package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashOrRead(t *testing.T) {
	hash, err := HashOrRead("s3cret")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword(hash, []byte("s3cret")))
	assert.Error(t, bcrypt.CompareHashAndPassword(hash, []byte("other")))

	again, err := HashOrRead(string(hash))
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	// a QUERY_API_TOKEN hashed by htpasswd carries the $2y$ prefix
	htpasswd := "$2y$" + string(hash[4:])
	got, err := HashOrRead(htpasswd)
	require.NoError(t, err)
	assert.Equal(t, htpasswd, string(got))
}
