// Package runner wires the fleet services into the operations exposed by the CLI.
package runner

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/fgeck/gofleet/internal/models"
	"github.com/fgeck/gofleet/internal/services/credentials"
	"github.com/fgeck/gofleet/internal/services/dispatcher"
	"github.com/fgeck/gofleet/internal/services/inventory"
	"github.com/fgeck/gofleet/internal/services/liveness"
	"github.com/fgeck/gofleet/internal/services/local"
	"github.com/fgeck/gofleet/internal/services/registry"
	"github.com/fgeck/gofleet/internal/services/ssh"
	"github.com/fgeck/gofleet/internal/services/state"
	"github.com/fgeck/gofleet/internal/services/telegram"
	"github.com/fgeck/gofleet/internal/services/wol"
	"github.com/rs/zerolog"
)

// Operation names used in notifications.
const (
	OpRunCommand    = "run-command"
	OpExecuteScript = "execute-script"
)

// Service defines the operations available to the CLI.
type Service interface {
	LoadHosts(path string, selectLoaded bool) (int, error)
	AddHost(spec string, cred *models.Credential, opts AddHostOptions) (bool, error)
	RemoveHost(spec string) (bool, error)
	ListHosts() (*models.Snapshot, error)
	SelectHosts(tokens []string) ([]models.Host, error)
	CheckHosts(ctx context.Context) ([]models.Host, map[string]bool, error)
	SelectReachable(ctx context.Context) ([]models.Host, error)
	RunLocal(ctx context.Context, command string) (*models.CommandOutput, error)
	RunCommand(ctx context.Context, command string, repetitions int, interval time.Duration) (*models.Aggregate, error)
	ExecuteScript(ctx context.Context, path string) (*models.Aggregate, error)
	OpenShell(ctx context.Context, index int, stdin *os.File, stdout, stderr io.Writer) error
	WakeHosts(ctx context.Context) ([]models.WOLResult, error)
}

// AddHostOptions controls AddHost.
type AddHostOptions struct {
	Select bool
	// AppendToFile also writes the host to the configured hosts file.
	AppendToFile bool
}

// Services bundles the collaborators of the runner.
type Services struct {
	Registry   registry.Service
	Inventory  inventory.Service
	Transport  ssh.Service
	Dispatcher dispatcher.Service
	Local      local.Service
	Liveness   liveness.Service
	WOL        wol.Service
	Telegram   telegram.Service
	Prompter   credentials.Prompter
}

// Impl implements the runner Service interface.
type Impl struct {
	cfg    *models.Config
	svc    Services
	logger zerolog.Logger
}

// New creates a new runner with the default services for cfg.
func New(cfg *models.Config, logger zerolog.Logger) *Impl {
	transport := ssh.New(cfg.SSH, logger)
	localSvc := local.New(logger)
	prober := liveness.New(cfg.Liveness, localSvc, logger)

	return &Impl{
		cfg: cfg,
		svc: Services{
			Registry:   registry.New(state.New(cfg.StateFile, logger), logger),
			Inventory:  inventory.New(logger),
			Transport:  transport,
			Dispatcher: dispatcher.New(transport, cfg.Dispatch, cfg.Script, logger),
			Local:      localSvc,
			Liveness:   prober,
			WOL:        wol.New(prober, logger),
			Telegram:   telegram.New(logger),
			Prompter:   credentials.NewTerminalPrompter(),
		},
		logger: logger,
	}
}

// NewWithServices creates a new runner with custom services (for testing).
func NewWithServices(cfg *models.Config, logger zerolog.Logger, services Services) *Impl {
	return &Impl{
		cfg:    cfg,
		svc:    services,
		logger: logger,
	}
}

// LoadHosts reads a host list and merges it into the registry. An empty path
// falls back to the configured hosts file.
func (s *Impl) LoadHosts(path string, selectLoaded bool) (int, error) {
	if path == "" {
		path = s.cfg.HostsFile
	}
	if path == "" {
		return 0, models.NewConfigError("no hosts file given and hosts_file is not configured")
	}

	entries, err := s.svc.Inventory.LoadFile(path)
	if err != nil {
		return 0, err
	}

	added, err := s.svc.Registry.BulkLoad(entries, selectLoaded)
	if err != nil {
		return 0, err
	}

	s.logger.Debug().
		Str("file", path).
		Int("entries", len(entries)).
		Int("added", added).
		Msg("hosts loaded")

	return added, nil
}

// AddHost registers one host. It reports false when the host was already known.
func (s *Impl) AddHost(spec string, cred *models.Credential, opts AddHostOptions) (bool, error) {
	host, err := models.ParseHost(spec)
	if err != nil {
		return false, err
	}
	if opts.AppendToFile && s.cfg.HostsFile == "" {
		return false, models.NewConfigError("--append-to-file needs hosts_file to be configured")
	}

	added, err := s.svc.Registry.Add(host, cred, registry.AddOptions{Select: opts.Select})
	if err != nil {
		return false, err
	}
	if !added {
		s.logger.Info().Str("host", host.Key()).Msg("host already registered")
		return false, nil
	}

	if opts.AppendToFile {
		if err := s.svc.Inventory.AppendHost(s.cfg.HostsFile, host, cred); err != nil {
			return true, err
		}
	}

	return true, nil
}

// RemoveHost deletes one host and its credential.
func (s *Impl) RemoveHost(spec string) (bool, error) {
	host, err := models.ParseHost(spec)
	if err != nil {
		return false, err
	}
	return s.svc.Registry.Remove(host)
}

// ListHosts returns the current snapshot.
func (s *Impl) ListHosts() (*models.Snapshot, error) {
	return s.svc.Registry.List()
}

// SelectHosts selects hosts by their position in the fleet.
func (s *Impl) SelectHosts(tokens []string) ([]models.Host, error) {
	return s.svc.Registry.SelectTokens(tokens)
}

// CheckHosts probes every registered host.
func (s *Impl) CheckHosts(ctx context.Context) ([]models.Host, map[string]bool, error) {
	snap, err := s.svc.Registry.List()
	if err != nil {
		return nil, nil, err
	}
	if len(snap.AllHosts) == 0 {
		return nil, nil, models.NewValidationError("no hosts registered")
	}

	return snap.AllHosts, s.svc.Liveness.Probe(ctx, snap.AllHosts), nil
}

// SelectReachable probes the selection (the whole fleet when nothing is
// selected) and keeps only the hosts that answered.
func (s *Impl) SelectReachable(ctx context.Context) ([]models.Host, error) {
	snap, err := s.svc.Registry.List()
	if err != nil {
		return nil, err
	}

	candidates := registry.SelectionOrAll(snap)
	if len(candidates) == 0 {
		return nil, models.NewValidationError("no hosts registered")
	}

	status := s.svc.Liveness.Probe(ctx, candidates)

	selected, err := s.svc.Registry.SelectWhere(func(h models.Host) bool {
		return status[h.Key()]
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int("probed", len(candidates)).
		Int("reachable", len(selected)).
		Msg("selection narrowed to reachable hosts")

	return selected, nil
}

// RunLocal runs command on this machine.
func (s *Impl) RunLocal(ctx context.Context, command string) (*models.CommandOutput, error) {
	return s.svc.Local.Run(ctx, command)
}

// RunCommand dispatches command to the selected hosts.
func (s *Impl) RunCommand(ctx context.Context, command string, repetitions int, interval time.Duration) (*models.Aggregate, error) {
	snap, err := s.svc.Registry.List()
	if err != nil {
		return nil, err
	}

	agg, err := s.svc.Dispatcher.Dispatch(ctx, models.ExecutionRequest{
		Command:     command,
		Targets:     snap.SelectedHosts,
		Repetitions: repetitions,
		Interval:    interval,
	}, s.resolver(snap))
	if err != nil {
		return agg, err
	}

	s.notify(ctx, OpRunCommand, agg)
	return agg, nil
}

// ExecuteScript uploads and runs a local script on the selected hosts.
func (s *Impl) ExecuteScript(ctx context.Context, path string) (*models.Aggregate, error) {
	snap, err := s.svc.Registry.List()
	if err != nil {
		return nil, err
	}

	agg, err := s.svc.Dispatcher.DispatchScript(ctx, models.ScriptRequest{
		LocalPath: path,
		Targets:   snap.SelectedHosts,
	}, s.resolver(snap))
	if err != nil {
		return agg, err
	}

	s.notify(ctx, OpExecuteScript, agg)
	return agg, nil
}

// OpenShell starts an interactive shell on the index-th selected host.
func (s *Impl) OpenShell(ctx context.Context, index int, stdin *os.File, stdout, stderr io.Writer) error {
	snap, err := s.svc.Registry.List()
	if err != nil {
		return err
	}
	if len(snap.SelectedHosts) == 0 {
		return models.NewValidationError("no target hosts selected")
	}
	if index < 0 || index >= len(snap.SelectedHosts) {
		return models.NewValidationError("no selected host at index %d (have %d)", index, len(snap.SelectedHosts))
	}

	host := snap.SelectedHosts[index]
	cred, err := s.resolver(snap).Resolve(host)
	if err != nil {
		return err
	}

	s.logger.Info().Str("host", host.Key()).Msg("opening shell")
	return s.svc.Transport.Shell(ctx, host, cred, stdin, stdout, stderr)
}

// WakeHosts sends Wake-on-LAN packets to the selection (the whole fleet when
// nothing is selected).
func (s *Impl) WakeHosts(ctx context.Context) ([]models.WOLResult, error) {
	if s.cfg.WOL == nil {
		return nil, models.NewConfigError("wol is not configured")
	}

	snap, err := s.svc.Registry.List()
	if err != nil {
		return nil, err
	}

	return s.svc.WOL.WakeHosts(ctx, registry.SelectionOrAll(snap), *s.cfg.WOL)
}

func (s *Impl) resolver(snap *models.Snapshot) *credentials.Resolver {
	var prompter credentials.Prompter
	if s.cfg.Dispatch.Prompt && s.svc.Prompter != nil {
		prompter = s.svc.Prompter
	}
	return credentials.NewResolver(snap.Credentials, prompter, s.svc.Transport.HasKeyAuth(), s.logger)
}

func (s *Impl) notify(ctx context.Context, operation string, agg *models.Aggregate) {
	if s.cfg.Telegram == nil {
		return
	}

	result, err := s.svc.Telegram.SendNotification(ctx, *s.cfg.Telegram, telegram.NewMessage(operation, agg))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if result.Error != nil {
		s.logger.Error().Err(result.Error).Msg("failed to send Telegram notification")
		return
	}

	s.logger.Info().Msg("Telegram notification sent")
}
