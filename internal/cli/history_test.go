package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sessiongate/internal/ledger"
)

func executeHistory(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewHistoryCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func seedLedger(t *testing.T) (string, []string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runs.db")
	led, err := ledger.Open(path)
	require.NoError(t, err)
	defer led.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i, run := range []ledger.Run{
		{Scenario: "login", Target: "app/gateway.jar", Passed: true, StartedAt: base, Duration: 120 * time.Millisecond},
		{Scenario: "logout", Target: "app/gateway.jar", Passed: false, Errors: []string{"steps[2]: expected status 200, got 403"}, StartedAt: base.Add(time.Second), Duration: 80 * time.Millisecond},
	} {
		exchanges := []ledger.Exchange{{Seq: 1, Action: "LOGIN", Token: "user", KeyMode: "valid", Status: 200, Result: "OK"}}
		calls := []ledger.UpstreamCall{{Seq: 1, Path: "/auth", Body: "token=<user>"}}
		id, err := led.Record(context.Background(), run, exchanges, calls)
		require.NoError(t, err, "run %d", i)
		ids = append(ids, id)
	}
	return path, ids
}

func TestHistoryListsRuns(t *testing.T) {
	path, ids := seedLedger(t)

	out, err := executeHistory(t, "text", path)
	require.NoError(t, err)
	assert.Contains(t, out, "SCENARIO")
	assert.Contains(t, out, ids[0])
	assert.Contains(t, out, ids[1])
	assert.Less(t, bytes.Index([]byte(out), []byte(ids[0])), bytes.Index([]byte(out), []byte(ids[1])), "oldest first")
	assert.Contains(t, out, "2026-03-01T12:00:00Z")
}

func TestHistoryFailedOnlyJSON(t *testing.T) {
	path, ids := seedLedger(t)

	out, err := executeHistory(t, "json", path, "--failed")
	require.NoError(t, err)

	var resp struct {
		Data []ledger.Run `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, ids[1], resp.Data[0].ID)
	assert.Equal(t, "logout", resp.Data[0].Scenario)
	assert.False(t, resp.Data[0].Passed)
}

func TestHistoryRunDetail(t *testing.T) {
	path, ids := seedLedger(t)

	out, err := executeHistory(t, "text", path, ids[1])
	require.NoError(t, err)
	assert.Contains(t, out, "logout against app/gateway.jar: FAIL")
	assert.Contains(t, out, "! steps[2]: expected status 200, got 403")
	assert.Contains(t, out, "[1] LOGIN user key=valid -> 200 OK")
	assert.Contains(t, out, "[1] /auth token=<user>")
}

func TestHistoryUnknownRun(t *testing.T) {
	path, _ := seedLedger(t)

	_, err := executeHistory(t, "text", path, "no-such-run")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestHistoryMissingLedger(t *testing.T) {
	_, err := executeHistory(t, "text", filepath.Join(t.TempDir(), "absent.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "ledger not found")
}
