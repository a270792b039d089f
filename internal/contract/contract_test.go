package contract

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Decodes(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "/endpoint", c.Endpoint.Path)
	assert.Equal(t, "X-Api-Key", c.Endpoint.Header)
	assert.Equal(t, "token", c.Endpoint.TokenField)
	assert.Equal(t, "action", c.Endpoint.ActionField)
	assert.Equal(t, []string{"LOGIN", "ACTION", "LOGOUT"}, c.Actions)
	assert.Equal(t, "/auth", c.Upstream.Auth)
	assert.Equal(t, "/doAction", c.Upstream.DoAction)
	assert.Equal(t, time.Second, c.Upstream.Timeout())
	assert.Equal(t, "OK", c.Results.OK)
	assert.Equal(t, "ERROR", c.Results.Error)

	assert.Equal(t, 200, c.Status.OK)
	assert.Equal(t, 400, c.Status.Validation)
	assert.Equal(t, 401, c.Status.Unauthorized)
	assert.Equal(t, 403, c.Status.NotFound)
	assert.Equal(t, 409, c.Status.Conflict)
	assert.Equal(t, 500, c.Status.UpstreamFailure)

	assert.Equal(t, 8080, c.Readiness.Port)
	assert.Equal(t, 30*time.Second, c.Readiness.StartupTimeout())
	assert.Equal(t, 500*time.Millisecond, c.Readiness.PollInterval())
	assert.Equal(t, 5*time.Second, c.Readiness.GracePeriod())
}

func TestDefault_LoadedOnce(t *testing.T) {
	a, err := Default()
	require.NoError(t, err)
	b, err := Default()
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestIsAction(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	for _, a := range []string{"LOGIN", "ACTION", "LOGOUT"} {
		assert.True(t, c.IsAction(a), a)
	}
	for _, a := range []string{"", "login", "Login", "INVALID", "LOGIN "} {
		assert.False(t, c.IsAction(a), "%q", a)
	}
}

func TestLoad_RejectsOutOfRangeStatus(t *testing.T) {
	src := strings.Replace(string(defaultSource), "#Status & 409", "#Status & 999", 1)
	_, err := Load([]byte(src), "bad.cue")
	require.Error(t, err)
}

func TestLoad_RejectsLowercaseAction(t *testing.T) {
	src := strings.Replace(string(defaultSource), `"LOGOUT"]`, `"logout"]`, 1)
	_, err := Load([]byte(src), "bad.cue")
	require.Error(t, err)
}

func TestLoad_RejectsDuplicateAction(t *testing.T) {
	src := strings.Replace(string(defaultSource),
		`["LOGIN", "ACTION", "LOGOUT"]`, `["LOGIN", "LOGIN", "LOGOUT"]`, 1)
	_, err := Load([]byte(src), "dup.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate action literal")
}

func TestLoad_RejectsTokenRuleDrift(t *testing.T) {
	src := strings.Replace(string(defaultSource), `"^[0-9A-F]{32}$"`, `"^[0-9a-f]{32}$"`, 1)
	_, err := Load([]byte(src), "drift.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match validator")
}

func TestLoad_RejectsSyntaxError(t *testing.T) {
	_, err := Load([]byte("endpoint: {"), "broken.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile contract")
}

func TestLoad_RejectsIncomplete(t *testing.T) {
	src := strings.Replace(string(defaultSource), `#Positive & 1000`, `#Positive`, 1)
	_, err := Load([]byte(src), "incomplete.cue")
	require.Error(t, err)
}
