package mock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StubSpec is the admin payload for programming a path.
type StubSpec struct {
	Path   string `json:"path"`
	Status int    `json:"status"`
}

func (s *Server) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /__admin/stubs", func(w http.ResponseWriter, r *http.Request) {
		var spec StubSpec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			http.Error(w, "decode stub: "+err.Error(), http.StatusBadRequest)
			return
		}
		if spec.Path == "" || spec.Status < 100 || spec.Status > 599 {
			http.Error(w, "stub needs a path and a status in 100..599", http.StatusBadRequest)
			return
		}
		s.Stub(spec.Path, spec.Status)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /__admin/reset", func(w http.ResponseWriter, r *http.Request) {
		s.Reset()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /__admin/requests/reset", func(w http.ResponseWriter, r *http.Request) {
		s.ResetRequests()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /__admin/requests", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.Requests(r.URL.Query().Get("path")))
	})
	return mux
}

// AdminClient programs a mock running in another process through its admin
// surface. It offers the same operations as Server.
type AdminClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAdminClient creates a client for the mock at baseURL.
func NewAdminClient(baseURL string) *AdminClient {
	return &AdminClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// URL returns the mock base URL.
func (c *AdminClient) URL() string {
	return c.baseURL
}

// Stub programs path to answer with status.
func (c *AdminClient) Stub(ctx context.Context, path string, status int) error {
	payload, err := json.Marshal(StubSpec{Path: path, Status: status})
	if err != nil {
		return err
	}
	return c.post(ctx, "stubs", payload)
}

// Reset clears stubs and the journal.
func (c *AdminClient) Reset(ctx context.Context) error {
	return c.post(ctx, "reset", nil)
}

// ResetRequests clears the journal.
func (c *AdminClient) ResetRequests(ctx context.Context) error {
	return c.post(ctx, "requests/reset", nil)
}

// Requests fetches journaled requests to path (all when path is empty).
func (c *AdminClient) Requests(ctx context.Context, path string) ([]Request, error) {
	u := c.baseURL + AdminPrefix + "requests"
	if path != "" {
		u += "?" + url.Values{"path": {path}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mock admin requests: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mock admin requests: status %d", resp.StatusCode)
	}
	var out []Request
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode mock journal: %w", err)
	}
	return out, nil
}

func (c *AdminClient) post(ctx context.Context, op string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+AdminPrefix+op, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mock admin %s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("mock admin %s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
