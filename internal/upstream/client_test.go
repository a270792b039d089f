package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		status  int
		success bool
	}{
		{200, true},
		{201, true},
		{204, true},
		{299, true},
		{301, false},
		{400, false},
		{403, false},
		{404, false},
		{500, false},
		{503, false},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status >= 300 && tt.status < 400 {
					w.Header().Set("Location", "/elsewhere")
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			out := NewClient(srv.URL, time.Second).Call(context.Background(), PathAuth, "A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1")
			assert.Equal(t, tt.success, out.Success)
			assert.Equal(t, tt.status, out.StatusCode)
			assert.NoError(t, out.Err)
		})
	}
}

func TestClient_SendsFormEncodedToken(t *testing.T) {
	var gotPath, gotBody, gotType, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tok := "0123456789ABCDEF0123456789ABCDEF"
	out := NewClient(srv.URL+"/", time.Second).Call(context.Background(), PathDoAction, tok)
	require.True(t, out.Success)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/doAction", gotPath)
	assert.Equal(t, "application/x-www-form-urlencoded", gotType)
	assert.Equal(t, "token="+tok, gotBody)
}

func TestClient_TransportErrorIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close() // connection refused from here on

	out := NewClient(url, time.Second).Call(context.Background(), PathAuth, "A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1")
	assert.False(t, out.Success)
	assert.Zero(t, out.StatusCode)
	assert.Error(t, out.Err)
	assert.Contains(t, out.String(), "failure")
}

func TestClient_TimeoutIsFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	out := NewClient(srv.URL, 100*time.Millisecond).Call(context.Background(), PathAuth, "A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1")
	assert.False(t, out.Success)
	assert.Error(t, out.Err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_NoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	out := NewClient(srv.URL, time.Second).Call(context.Background(), PathAuth, "A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1")
	assert.False(t, out.Success)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "failure (500)", out.String())
}

func TestNewClient_DefaultTimeout(t *testing.T) {
	c := NewClient("http://localhost:8888/", 0)
	assert.Equal(t, DefaultTimeout, c.httpClient.Timeout)
	assert.Equal(t, "http://localhost:8888", c.BaseURL())
}
