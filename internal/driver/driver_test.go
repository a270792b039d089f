package driver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sessiongate/internal/gateway"
	"github.com/roach88/sessiongate/internal/mock"
	"github.com/roach88/sessiongate/internal/session"
	"github.com/roach88/sessiongate/internal/upstream"
)

const (
	secret = "qazWSXedc"
	tok    = "A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1"
)

func newStack(t *testing.T) (*Client, *mock.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	m := mock.New(logger)
	mockSrv := httptest.NewServer(m.Handler())
	t.Cleanup(mockSrv.Close)

	g, err := gateway.New(gateway.Config{
		Secret:   secret,
		Store:    session.NewMemoryStore(),
		Upstream: upstream.NewClient(mockSrv.URL, time.Second),
		Logger:   logger,
	})
	require.NoError(t, err)
	gwSrv := httptest.NewServer(g.Handler())
	t.Cleanup(gwSrv.Close)

	c, err := NewClient(Config{BaseURL: gwSrv.URL, APIKey: secret})
	require.NoError(t, err)
	return c, m
}

func TestParseKeyMode(t *testing.T) {
	for in, want := range map[string]KeyMode{"": KeyValid, "valid": KeyValid, "missing": KeyMissing, "invalid": KeyInvalid} {
		got, err := ParseKeyMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseKeyMode("sometimes")
	assert.Error(t, err)
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestClient_Lifecycle(t *testing.T) {
	c, m := newStack(t)
	ctx := context.Background()
	m.Stub("/auth", http.StatusOK)
	m.Stub("/doAction", http.StatusOK)

	resp, err := c.Login(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "OK", resp.Result)
	assert.NoError(t, resp.SchemaErr)

	resp, err = c.Action(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "OK", resp.Result)

	resp, err = c.Logout(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "OK", resp.Result)

	resp, err = c.Action(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.Status)
	assert.Equal(t, "ERROR", resp.Result)
	assert.NotEmpty(t, resp.Message)

	assert.True(t, m.Received("/auth", "token="+tok))
	assert.Equal(t, 1, m.Count("/doAction"))
}

func TestClient_KeyModes(t *testing.T) {
	c, m := newStack(t)
	ctx := context.Background()
	m.Stub("/auth", http.StatusOK)

	for _, mode := range []KeyMode{KeyMissing, KeyInvalid} {
		resp, err := c.Send(ctx, Request{Action: "LOGIN", Token: tok, Key: mode})
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.Status, mode)
		assert.Equal(t, "ERROR", resp.Result, mode)
	}
	assert.Zero(t, m.Count("/auth"))

	_, err := c.Send(ctx, Request{Action: "LOGIN", Token: tok, Key: "bogus"})
	assert.Error(t, err)
}

func TestClient_Omit(t *testing.T) {
	c, _ := newStack(t)

	resp, err := c.Send(context.Background(), Request{Omit: true})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, "ERROR", resp.Result)
}

func TestClient_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>oops</html>"},
		{"missing result", `{"status":"fine"}`},
		{"unknown result", `{"result":"MAYBE"}`},
		{"result wrong type", `{"result":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c, err := NewClient(Config{BaseURL: srv.URL, APIKey: secret})
			require.NoError(t, err)
			resp, err := c.Login(context.Background(), tok)
			require.NoError(t, err)
			assert.Error(t, resp.SchemaErr)
			assert.Equal(t, tt.body, string(resp.Body))
		})
	}
}

func TestClient_SendsContractFields(t *testing.T) {
	var gotKey, gotForm string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm.Encode()
		_, _ = io.WriteString(w, `{"result":"OK"}`)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL + "/", APIKey: secret})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/endpoint", c.Endpoint())

	resp, err := c.Send(context.Background(), Request{Action: "ACTION", Token: tok})
	require.NoError(t, err)
	assert.NoError(t, resp.SchemaErr)
	assert.Equal(t, secret, gotKey)
	assert.Equal(t, "action=ACTION&token="+tok, gotForm)
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(Config{BaseURL: url, APIKey: secret})
	require.NoError(t, err)
	_, err = c.Login(context.Background(), tok)
	assert.Error(t, err)
}
