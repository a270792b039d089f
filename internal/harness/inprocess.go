package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/roach88/sessiongate/internal/gateway"
	"github.com/roach88/sessiongate/internal/mock"
	"github.com/roach88/sessiongate/internal/session"
	"github.com/roach88/sessiongate/internal/upstream"
)

// InProcess is the reference gateway and a mock dependency, both serving on
// loopback ports in this process.
type InProcess struct {
	Mock       *mock.Server
	Gateway    *gateway.Gateway
	GatewayURL string

	cancel context.CancelFunc
	done   chan error
}

// StartInProcess starts a mock dependency and a reference gateway that uses
// it, with secret as the API key.
func StartInProcess(secret string, upstreamTimeout time.Duration, logger *slog.Logger) (*InProcess, error) {
	m := mock.New(logger)
	if err := m.Start(""); err != nil {
		return nil, err
	}

	g, err := gateway.New(gateway.Config{
		Secret:   secret,
		Store:    session.NewMemoryStore(),
		Upstream: upstream.NewClient(m.URL(), upstreamTimeout),
		Logger:   logger,
	})
	if err != nil {
		_ = m.Close()
		return nil, err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("gateway listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &InProcess{
		Mock:       m,
		Gateway:    g,
		GatewayURL: "http://" + ln.Addr().String(),
		cancel:     cancel,
		done:       make(chan error, 1),
	}
	srv := gateway.NewServer(g, ln.Addr().String())
	go func() {
		p.done <- srv.Serve(ctx, ln)
	}()
	return p, nil
}

// MockAdmin returns an admin client for the mock.
func (p *InProcess) MockAdmin() *mock.AdminClient {
	return mock.NewAdminClient(p.Mock.URL())
}

// Close stops the gateway, then the mock.
func (p *InProcess) Close() error {
	p.cancel()
	err := <-p.done
	return errors.Join(err, p.Mock.Close())
}
