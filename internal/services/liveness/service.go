// Package liveness probes hosts for network reachability.
package liveness

import (
	"context"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/fgeck/gofleet/internal/models"
	"github.com/fgeck/gofleet/internal/services/local"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Probe methods.
const (
	MethodICMP = "icmp"
	MethodTCP  = "tcp"
)

// Service defines the interface for reachability checks.
type Service interface {
	IsReachable(ctx context.Context, host models.Host) bool
	Probe(ctx context.Context, hosts []models.Host) map[string]bool
}

// Dialer opens network connections.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Impl implements the liveness Service interface.
type Impl struct {
	cfg    models.LivenessConfig
	local  local.Service
	dialer Dialer
	logger zerolog.Logger
}

// New creates a new liveness service. ICMP probes run ping through localSvc.
func New(cfg models.LivenessConfig, localSvc local.Service, logger zerolog.Logger) *Impl {
	return &Impl{
		cfg:    cfg,
		local:  localSvc,
		dialer: &net.Dialer{},
		logger: logger,
	}
}

// NewWithDialer creates a new liveness service with a custom dialer (for testing).
func NewWithDialer(cfg models.LivenessConfig, localSvc local.Service, dialer Dialer, logger zerolog.Logger) *Impl {
	return &Impl{
		cfg:    cfg,
		local:  localSvc,
		dialer: dialer,
		logger: logger,
	}
}

// IsReachable probes a single host with the configured method.
func (s *Impl) IsReachable(ctx context.Context, host models.Host) bool {
	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	var ok bool
	if s.cfg.Method == MethodTCP {
		ok = s.probeTCP(ctx, host, timeout)
	} else {
		ok = s.probeICMP(ctx, host, timeout)
	}

	s.logger.Debug().Str("host", host.Key()).Bool("reachable", ok).Str("method", s.method()).Msg("probe finished")
	return ok
}

func (s *Impl) method() string {
	if s.cfg.Method == "" {
		return MethodICMP
	}
	return s.cfg.Method
}

func (s *Impl) probeICMP(ctx context.Context, host models.Host, timeout time.Duration) bool {
	secs := int(math.Ceil(timeout.Seconds()))
	if secs < 1 {
		secs = 1
	}

	// ping enforces -W itself, the context only guards against a hung binary
	ctx, cancel := context.WithTimeout(ctx, timeout+time.Second)
	defer cancel()

	_, err := s.local.Exec(ctx, "ping", "-c", "1", "-W", strconv.Itoa(secs), host.Address)
	return err == nil
}

func (s *Impl) probeTCP(ctx context.Context, host models.Host, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := s.dialer.DialContext(ctx, "tcp", host.Addr())
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Probe checks every host concurrently and returns reachability by host key.
func (s *Impl) Probe(ctx context.Context, hosts []models.Host) map[string]bool {
	results := make(map[string]bool, len(hosts))
	var mu sync.Mutex

	var g errgroup.Group
	if s.cfg.Concurrency > 0 {
		g.SetLimit(s.cfg.Concurrency)
	}

	for _, h := range hosts {
		g.Go(func() error {
			ok := s.IsReachable(ctx, h)
			mu.Lock()
			results[h.Key()] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	up := 0
	for _, ok := range results {
		if ok {
			up++
		}
	}
	s.logger.Info().Int("probed", len(hosts)).Int("reachable", up).Msg("liveness probe finished")

	return results
}
