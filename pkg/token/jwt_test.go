package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	m := NewJWTManager("secret", 1)
	tok, err := m.GenerateToken("indexer")
	require.NoError(t, err)

	claims, err := m.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "indexer", claims.Subject)
	assert.Equal(t, SkillScope, claims.Scope)
}

func TestVerifyRejectsWrongSecretAndExpired(t *testing.T) {
	tok, err := NewJWTManager("secret", 1).GenerateToken("indexer")
	require.NoError(t, err)
	_, err = NewJWTManager("other", 1).VerifyToken(tok)
	assert.Error(t, err)

	expired, err := NewJWTManager("secret", -1).GenerateToken("indexer")
	require.NoError(t, err)
	_, err = NewJWTManager("secret", 1).VerifyToken(expired)
	assert.Error(t, err)
}

func TestGenerateRandomString(t *testing.T) {
	s := GenerateRandomString(16)
	assert.Len(t, s, 32)
	assert.NotEqual(t, s, GenerateRandomString(16))
}
