package mock

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func postToken(t *testing.T, base, path, tok string) int {
	t.Helper()
	resp, err := http.PostForm(base+path, url.Values{"token": {tok}})
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func TestServer_StubAndJournal(t *testing.T) {
	s := New(discardLogger())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	s.Stub("/auth", http.StatusOK)
	s.Stub("doAction", http.StatusInternalServerError)

	assert.Equal(t, 200, postToken(t, ts.URL, "/auth", "AAAA"))
	assert.Equal(t, 500, postToken(t, ts.URL, "/doAction", "BBBB"))
	assert.Equal(t, 404, postToken(t, ts.URL, "/unknown", "CCCC"))

	assert.Equal(t, 1, s.Count("/auth"))
	assert.Equal(t, 1, s.Count("/doAction"))
	assert.Equal(t, 3, s.Count(""))
	assert.True(t, s.Received("/auth", "token=AAAA"))
	assert.False(t, s.Received("/auth", "token=BBBB"))

	reqs := s.Requests("/doAction")
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "application/x-www-form-urlencoded", reqs[0].ContentType)
	assert.Equal(t, "BBBB", reqs[0].FormValue("token"))
	assert.False(t, reqs[0].ReceivedAt.IsZero())
}

func TestServer_ResetRequestsKeepsStubs(t *testing.T) {
	s := New(discardLogger())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	s.Stub("/auth", http.StatusOK)
	postToken(t, ts.URL, "/auth", "AAAA")
	s.ResetRequests()

	assert.Zero(t, s.Count("/auth"))
	assert.Equal(t, 200, postToken(t, ts.URL, "/auth", "AAAA"))
}

func TestServer_ResetClearsEverything(t *testing.T) {
	s := New(discardLogger())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	s.Stub("/auth", http.StatusOK)
	postToken(t, ts.URL, "/auth", "AAAA")
	s.Reset()

	assert.Zero(t, s.Count(""))
	assert.Equal(t, 404, postToken(t, ts.URL, "/auth", "AAAA"))
}

func TestServer_ConcurrentRequests(t *testing.T) {
	s := New(discardLogger())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	s.Stub("/auth", http.StatusOK)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.PostForm(ts.URL+"/auth", url.Values{"token": {"X"}})
			if err == nil {
				_ = resp.Body.Close()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, s.Count("/auth"))
}

func TestServer_StartAndClose(t *testing.T) {
	s := New(discardLogger())
	assert.Empty(t, s.URL())
	require.NoError(t, s.Start(""))

	assert.True(t, strings.HasPrefix(s.URL(), "http://127.0.0.1:"))
	s.Stub("/auth", http.StatusNoContent)
	assert.Equal(t, 204, postToken(t, s.URL(), "/auth", "AAAA"))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestAdminClient_RoundTrip(t *testing.T) {
	s := New(discardLogger())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	ctx := context.Background()
	admin := NewAdminClient(ts.URL + "/")

	assert.Equal(t, ts.URL, admin.URL())
	require.NoError(t, admin.Stub(ctx, "/auth", http.StatusOK))
	assert.Equal(t, 200, postToken(t, ts.URL, "/auth", "AAAA"))
	assert.Equal(t, 404, postToken(t, ts.URL, "/doAction", "AAAA"))

	reqs, err := admin.Requests(ctx, "/auth")
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "token=AAAA", reqs[0].Body)

	all, err := admin.Requests(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2, "admin calls are not journaled")

	require.NoError(t, admin.ResetRequests(ctx))
	assert.Zero(t, s.Count(""))
	assert.Equal(t, 200, postToken(t, ts.URL, "/auth", "AAAA"))

	require.NoError(t, admin.Reset(ctx))
	assert.Equal(t, 404, postToken(t, ts.URL, "/auth", "AAAA"))
}

func TestAdminClient_RejectsBadStub(t *testing.T) {
	s := New(discardLogger())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	err := NewAdminClient(ts.URL).Stub(context.Background(), "/auth", 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}
