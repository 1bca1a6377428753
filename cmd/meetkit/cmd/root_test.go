package cmd

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetkit/internal/core/services"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	if args == nil {
		args = []string{}
	}
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		tokenScopes = []string{string(services.ScopeRead)}
		tokenOperator = ""
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCommand_Help(t *testing.T) {
	out, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, out, "meetkit")
	assert.Contains(t, out, "serve")
	assert.Contains(t, out, "token")
}

func TestRootCommand_Version(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2026-01-01")

	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "1.2.3")
	assert.Contains(t, out, "abc123")
	assert.Contains(t, out, "2026-01-01")
}

func TestTokenCommand_MintsVerifiableToken(t *testing.T) {
	t.Setenv("MEETKIT_JWT_SECRET", "cli-secret")
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	out, err := execute(t, "token", "--config", missing, "--operator", "alice", "--scope", "read,tiles:control")
	require.NoError(t, err)

	auth := services.NewAuthService("cli-secret", "meetkit", time.Minute)
	claims, err := auth.ValidateToken(string(bytes.TrimSpace([]byte(out))))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Operator)
	assert.True(t, claims.HasScope(services.ScopeTileControl))
	assert.True(t, claims.HasScope(services.ScopeRead))
}

func TestTokenCommand_RejectsUnknownScope(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	_, err := execute(t, "token", "--config", missing, "--operator", "alice", "--scope", "admin")
	assert.ErrorContains(t, err, `unknown scope "admin"`)
}
