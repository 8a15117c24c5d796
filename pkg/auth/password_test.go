package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	hasher := NewPasswordHasher()

	hash, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	match, err := hasher.Verify("correct horse battery staple", hash)
	require.NoError(t, err)
	assert.True(t, match)

	match, err = hasher.Verify("wrong password", hash)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestPasswordHashUniqueSalt(t *testing.T) {
	hasher := NewPasswordHasher()

	first, err := hasher.Hash("same input")
	require.NoError(t, err)
	second, err := hasher.Hash("same input")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestPasswordVerifyMalformedHash(t *testing.T) {
	hasher := NewPasswordHasher()

	for _, hash := range []string{
		"",
		"not a hash",
		"$argon2id$v=19$m=65536,t=3,p=2$short",
		"$bcrypt$v=19$m=65536,t=3,p=2$c2FsdA$a2V5",
	} {
		_, err := hasher.Verify("anything", hash)
		assert.Error(t, err, "hash %q", hash)
	}
}
