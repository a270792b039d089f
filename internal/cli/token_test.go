package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sessiongate/internal/token"
)

func executeToken(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTokenCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTokenCommandDefault(t *testing.T) {
	out, err := executeToken(t, "text")
	require.NoError(t, err)

	tok := strings.TrimSuffix(out, "\n")
	assert.True(t, token.IsValid(tok), "got %q", tok)
}

func TestTokenCommandCount(t *testing.T) {
	out, err := executeToken(t, "text", "-n", "4")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 4)
	seen := map[string]bool{}
	for _, tok := range lines {
		assert.True(t, token.IsValid(tok), tok)
		assert.False(t, seen[tok], "duplicate token %s", tok)
		seen[tok] = true
	}
}

func TestTokenCommandMalformed(t *testing.T) {
	for _, kind := range token.MalformedKinds {
		t.Run(string(kind), func(t *testing.T) {
			out, err := executeToken(t, "json", "--malformed", string(kind))
			require.NoError(t, err)

			var resp struct {
				Data struct {
					Tokens []string `json:"tokens"`
				} `json:"data"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			require.Len(t, resp.Data.Tokens, 1)
			assert.False(t, token.IsValid(resp.Data.Tokens[0]))
		})
	}
}

func TestTokenCommandUnknownMalformed(t *testing.T) {
	_, err := executeToken(t, "text", "--malformed", "weird")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown malformed token kind "weird"`)
}

func TestTokenCommandBadCount(t *testing.T) {
	_, err := executeToken(t, "text", "-n", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
