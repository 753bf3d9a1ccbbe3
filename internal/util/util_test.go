package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	require.NoError(t, err)
	b, err := GenerateToken()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

func TestHashToken(t *testing.T) {
	assert.Equal(t, HashToken("token"), HashToken("token"))
	assert.NotEqual(t, HashToken("token"), HashToken("other"))
	assert.Len(t, HashToken("token"), 64)
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual("abc", "abc"))
	assert.False(t, ConstantTimeEqual("abc", "abd"))
	assert.False(t, ConstantTimeEqual("abc", "abcd"))
}

func TestMaskChipUID(t *testing.T) {
	assert.Equal(t, "04:a-****", MaskChipUID("04:a3:22:b1"))
	assert.Equal(t, "****", MaskChipUID("04"))
}

func TestIsValidUUID(t *testing.T) {
	assert.True(t, IsValidUUID("11111111-1111-1111-1111-111111111111"))
	assert.False(t, IsValidUUID(""))
	assert.False(t, IsValidUUID("not-a-uuid"))
	assert.False(t, IsValidUUID("11111111-1111-1111-1111-11111111111Z"))
}

func TestIsValidEnum(t *testing.T) {
	values := []string{"manual", "time_limit"}
	assert.True(t, IsValidEnum("manual", values))
	assert.False(t, IsValidEnum("rage_quit", values))
	// Empty means "not provided"; required-ness is checked separately.
	assert.True(t, IsValidEnum("", values))
}
