// Package wol provides Wake-on-LAN operations.
package wol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/fgeck/gofleet/internal/models"
	"github.com/fgeck/gofleet/internal/services/liveness"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrNoMAC is returned for hosts without a configured MAC address.
var ErrNoMAC = errors.New("no MAC address configured")

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	WakeHosts(ctx context.Context, hosts []models.Host, cfg models.WOLConfig) ([]models.WOLResult, error)
}

// Client wraps the wol library for mocking.
type Client interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// DefaultClient is the default implementation using mdlayher/wol.
type DefaultClient struct{}

// Wake sends a magic packet to the specified MAC address.
func (c *DefaultClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	if err := client.Wake(net.JoinHostPort(ip.String(), "9"), mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}

	return nil
}

// Impl implements the WOL Service interface.
type Impl struct {
	wolClient Client
	prober    liveness.Service
	logger    zerolog.Logger
}

// New creates a new WOL service. prober may be nil when no waiting is needed.
func New(prober liveness.Service, logger zerolog.Logger) *Impl {
	return &Impl{
		wolClient: &DefaultClient{},
		prober:    prober,
		logger:    logger,
	}
}

// NewWithClients creates a new WOL service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, wolClient Client, prober liveness.Service) *Impl {
	return &Impl{
		wolClient: wolClient,
		prober:    prober,
		logger:    logger,
	}
}

// WakeHosts sends a magic packet to every host with a known MAC address and,
// when cfg.Timeout is set, waits for each woken host to answer a probe.
// Per-host failures are reported in the results, in input order.
func (s *Impl) WakeHosts(ctx context.Context, hosts []models.Host, cfg models.WOLConfig) ([]models.WOLResult, error) {
	if len(hosts) == 0 {
		return nil, models.NewValidationError("no hosts to wake")
	}
	if net.ParseIP(cfg.BroadcastIP) == nil {
		return nil, models.NewConfigError("invalid broadcast IP %q", cfg.BroadcastIP)
	}

	start := time.Now()
	results := make([]models.WOLResult, len(hosts))
	for i, host := range hosts {
		results[i] = s.send(host, cfg)
	}

	if cfg.Timeout <= 0 || s.prober == nil {
		for i := range results {
			results[i].WaitDuration = time.Since(start)
		}
		return results, nil
	}

	s.logger.Info().
		Dur("timeout", cfg.Timeout).
		Msg("waiting for hosts to become reachable")

	g, gctx := errgroup.WithContext(ctx)
	for i := range results {
		if !results[i].PacketSent {
			continue
		}
		g.Go(func() error {
			err := s.waitForHost(gctx, results[i].Host, cfg)
			results[i].WaitDuration = time.Since(start)
			if err != nil {
				results[i].Error = err
				return nil
			}
			results[i].Reachable = true
			s.logger.Info().
				Str("host", results[i].Host.Key()).
				Dur("duration", results[i].WaitDuration).
				Msg("host is reachable")
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

func (s *Impl) send(host models.Host, cfg models.WOLConfig) models.WOLResult {
	result := models.WOLResult{Host: host}

	raw, ok := cfg.MACs[host.Address]
	if !ok || raw == "" {
		result.Error = ErrNoMAC
		return result
	}

	mac, err := net.ParseMAC(raw)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", raw, err)
		return result
	}

	s.logger.Info().
		Str("host", host.Key()).
		Str("mac", mac.String()).
		Str("broadcast", cfg.BroadcastIP).
		Msg("sending WOL packet")

	if err := s.wolClient.Wake(cfg.BroadcastIP, mac); err != nil {
		result.Error = err
		return result
	}

	result.PacketSent = true
	return result
}

func (s *Impl) waitForHost(ctx context.Context, host models.Host, cfg models.WOLConfig) error {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(cfg.Timeout)

	for {
		if s.prober.IsReachable(ctx, host) {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for %s", host.Key())
		}

		s.logger.Debug().Str("host", host.Key()).Msg("host not ready yet")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
