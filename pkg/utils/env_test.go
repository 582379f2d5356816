package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnv(t *testing.T) {
	t.Setenv("BLOCKSTORE_TEST_STR", "value")
	assert.Equal(t, "value", Env("BLOCKSTORE_TEST_STR", "def"))
	assert.Equal(t, "def", Env("BLOCKSTORE_TEST_MISSING", "def"))
}

func TestEnvInt(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"valid", "12", 12},
		{"zero falls back", "0", 7},
		{"negative falls back", "-3", 7},
		{"garbage falls back", "abc", 7},
		{"empty falls back", "", 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BLOCKSTORE_TEST_INT", tt.value)
			assert.Equal(t, tt.want, EnvInt("BLOCKSTORE_TEST_INT", 7))
		})
	}
}

func TestEnvInt64(t *testing.T) {
	t.Setenv("BLOCKSTORE_TEST_INT64", "0")
	assert.Equal(t, int64(0), EnvInt64("BLOCKSTORE_TEST_INT64", 10))

	t.Setenv("BLOCKSTORE_TEST_INT64", "-1")
	assert.Equal(t, int64(10), EnvInt64("BLOCKSTORE_TEST_INT64", 10))
}

func TestEnvBool(t *testing.T) {
	t.Setenv("BLOCKSTORE_TEST_BOOL", "true")
	assert.True(t, EnvBool("BLOCKSTORE_TEST_BOOL", false))

	t.Setenv("BLOCKSTORE_TEST_BOOL", "0")
	assert.False(t, EnvBool("BLOCKSTORE_TEST_BOOL", true))

	t.Setenv("BLOCKSTORE_TEST_BOOL", "maybe")
	assert.True(t, EnvBool("BLOCKSTORE_TEST_BOOL", true))
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("BLOCKSTORE_TEST_DURATION", "250ms")
	assert.Equal(t, 250*time.Millisecond, EnvDuration("BLOCKSTORE_TEST_DURATION", time.Second))

	t.Setenv("BLOCKSTORE_TEST_DURATION", "soon")
	assert.Equal(t, time.Second, EnvDuration("BLOCKSTORE_TEST_DURATION", time.Second))
}
