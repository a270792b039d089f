// Package mock is a programmable stand-in for the gateway's upstream
// dependency. Tests program a status per path, point the gateway at URL, then
// query the request journal.
//
// Unstubbed paths answer 404. The admin surface under /__admin/ lets a process
// that does not share memory with the server program and inspect it; see
// AdminClient.
package mock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// AdminPrefix is the path prefix of the admin surface.
const AdminPrefix = "/__admin/"

// Request is one journaled call to a stubbed or unstubbed path.
type Request struct {
	Method      string    `json:"method"`
	Path        string    `json:"path"`
	ContentType string    `json:"contentType,omitempty"`
	Body        string    `json:"body"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

// FormValue returns a form field from the journaled body.
func (r Request) FormValue(key string) string {
	v, err := url.ParseQuery(r.Body)
	if err != nil {
		return ""
	}
	return v.Get(key)
}

// Server is the mock dependency. The zero value is not usable; call New.
type Server struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	stubs   map[string]int
	journal []Request

	httpServer *http.Server
	listener   net.Listener
	done       chan struct{}
}

// New creates a server that is not yet listening. Handler may be mounted
// directly (e.g. under httptest) or the server started with Start.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger: logger,
		now:    time.Now,
		stubs:  make(map[string]int),
	}
}

// Start listens on addr (":0" or "" picks a free loopback port) and serves in
// the background until Close.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mock listen %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("mock serve", "error", err)
		}
	}()
	s.logger.Info("mock listening", "url", s.URL())
	return nil
}

// Close stops a started server. It is a no-op otherwise.
func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)
	<-s.done
	s.httpServer = nil
	return err
}

// URL returns the base URL of a started server, without a trailing slash.
func (s *Server) URL() string {
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String()
}

// Stub makes path answer with status until the next Reset.
func (s *Server) Stub(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubs[normalizePath(path)] = status
}

// Reset clears stubs and the journal.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubs = make(map[string]int)
	s.journal = nil
}

// ResetRequests clears the journal and keeps stubs.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = nil
}

// Requests returns journaled requests to path in arrival order. An empty path
// returns every request.
func (s *Server) Requests(path string) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterJournal(s.journal, path)
}

// Count returns how many requests reached path.
func (s *Server) Count(path string) int {
	return len(s.Requests(path))
}

// Received reports whether any request to path carried a body containing
// substr.
func (s *Server) Received(path, substr string) bool {
	for _, r := range s.Requests(path) {
		if strings.Contains(r.Body, substr) {
			return true
		}
	}
	return false
}

// Handler returns the stub plus admin surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(AdminPrefix, s.adminHandler())
	mux.HandleFunc("/", s.serveStub)
	return mux
}

func (s *Server) serveStub(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.logger.Warn("mock read body", "error", err)
	}
	path := normalizePath(r.URL.Path)

	s.mu.Lock()
	s.journal = append(s.journal, Request{
		Method:      r.Method,
		Path:        path,
		ContentType: r.Header.Get("Content-Type"),
		Body:        string(body),
		ReceivedAt:  s.now(),
	})
	status, ok := s.stubs[path]
	s.mu.Unlock()

	if !ok {
		status = http.StatusNotFound
	}
	s.logger.Debug("mock request", "method", r.Method, "path", path, "status", status)
	w.WriteHeader(status)
}

func filterJournal(journal []Request, path string) []Request {
	path = normalizePath(path)
	out := make([]Request, 0, len(journal))
	for _, r := range journal {
		if path == "" || r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func normalizePath(p string) string {
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
