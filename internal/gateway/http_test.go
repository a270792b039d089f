package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sessiongate/internal/upstream"
)

func postForm(t *testing.T, h http.Handler, key *string, form url.Values) (*httptest.ResponseRecorder, Body) {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/endpoint", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if key != nil {
		r.Header.Set("X-Api-Key", *key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var body Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w, body
}

func strPtr(s string) *string { return &s }

func TestHandler_LoginOK(t *testing.T) {
	g, _, up := newTestGateway(t)

	w, body := postForm(t, g.Handler(), strPtr(testSecret), url.Values{"token": {testToken}, "action": {"LOGIN"}})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "OK", body.Result)
	assert.Empty(t, body.Message)
	assert.Equal(t, 1, up.count(upstream.PathAuth))
}

func TestHandler_MissingKey(t *testing.T) {
	g, _, up := newTestGateway(t)

	w, body := postForm(t, g.Handler(), nil, url.Values{"token": {testToken}, "action": {"LOGIN"}})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "ERROR", body.Result)
	assert.Zero(t, up.total())
}

func TestHandler_InvalidKey(t *testing.T) {
	g, _, _ := newTestGateway(t)

	w, body := postForm(t, g.Handler(), strPtr("wrongKey123"), url.Values{"token": {testToken}, "action": {"LOGIN"}})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "ERROR", body.Result)
}

func TestHandler_MissingFields(t *testing.T) {
	g, _, up := newTestGateway(t)

	w, body := postForm(t, g.Handler(), strPtr(testSecret), url.Values{})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ERROR", body.Result)
	assert.Zero(t, up.total())
}

func TestHandler_IgnoresQueryFields(t *testing.T) {
	g, _, up := newTestGateway(t)

	r := httptest.NewRequest(http.MethodPost, "/endpoint?action=LOGIN&token="+testToken, nil)
	r.Header.Set("X-Api-Key", testSecret)
	w := httptest.NewRecorder()
	g.Handler().ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, up.total())
}

func TestHandler_MalformedBody(t *testing.T) {
	g, _, _ := newTestGateway(t)

	r := httptest.NewRequest(http.MethodPost, "/endpoint", strings.NewReader("%zz=%%&;;"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("X-Api-Key", testSecret)
	w := httptest.NewRecorder()
	g.Handler().ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"result":"ERROR"`)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	g, _, _ := newTestGateway(t)

	r := httptest.NewRequest(http.MethodGet, "/endpoint", nil)
	w := httptest.NewRecorder()
	g.Handler().ServeHTTP(w, r)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, http.MethodPost, w.Header().Get("Allow"))
	assert.Contains(t, w.Body.String(), `"result":"ERROR"`)
}

func TestHandler_UnknownPath(t *testing.T) {
	g, _, _ := newTestGateway(t)

	r := httptest.NewRequest(http.MethodPost, "/other", nil)
	w := httptest.NewRecorder()
	g.Handler().ServeHTTP(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

type panickingStore struct{}

func (panickingStore) TryCreate(string) bool { panic("store exploded") }
func (panickingStore) Exists(string) bool    { panic("store exploded") }
func (panickingStore) TryDelete(string) bool { panic("store exploded") }

func TestHandler_RecoversPanic(t *testing.T) {
	g, err := New(Config{
		Secret:   testSecret,
		Store:    panickingStore{},
		Upstream: &fakeUpstream{},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	w, body := postForm(t, g.Handler(), strPtr(testSecret), url.Values{"token": {testToken}, "action": {"LOGOUT"}})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "ERROR", body.Result)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	g, _, _ := newTestGateway(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	srv := NewServer(g, ln.Addr().String())
	go func() { done <- srv.Serve(ctx, ln) }()

	form := url.Values{"token": {testToken}, "action": {"LOGIN"}}
	httpReq, err := http.NewRequest(http.MethodPost, "http://"+ln.Addr().String()+"/endpoint", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("X-Api-Key", testSecret)

	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServer_ListenError(t *testing.T) {
	g, _, _ := newTestGateway(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	err = NewServer(g, ln.Addr().String()).ListenAndServe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
}
