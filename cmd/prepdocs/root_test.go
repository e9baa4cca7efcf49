package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prepdocs-go/pkg/token"
)

func TestFlagsBindToConfigKeys(t *testing.T) {
	for _, name := range []string{"storageaccount", "container", "formrecognizerservice", "searchimages", "removeall"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
		assert.NotEmpty(t, flagKey(name), name)
	}
	assert.Equal(t, "documentintelligence.service", flagKey("formrecognizerservice"))
	assert.Equal(t, "ingest.remove_all", flagKey("removeall"))
	assert.Empty(t, flagKey("config"))
}

func TestSubcommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["enqueue"])
	assert.True(t, names["token"])
}

func TestTokenCommandIssuesSkillToken(t *testing.T) {
	t.Setenv("SKILL_JWT_SECRET", "s3cret")

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"token", "--subject", "search-indexer"})
	require.NoError(t, rootCmd.Execute())

	claims, err := token.NewJWTManager("s3cret", 1).VerifyToken(strings.TrimSpace(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, token.SkillScope, claims.Scope)
	assert.Equal(t, "search-indexer", claims.Subject)
}
