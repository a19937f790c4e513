// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/gofleet/internal/models"
	"github.com/spf13/viper"
)

// wolHost is one entry of wol.hosts.
type wolHost struct {
	Address string `mapstructure:"address"`
	MAC     string `mapstructure:"mac"`
}

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

// Defaults returns the configuration used when no file is given.
func (p *Parser) Defaults() (*models.Config, error) {
	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{
		StateFile: p.expandPath(p.v.GetString("state_file")),
		HostsFile: p.expandPath(p.v.GetString("hosts_file")),
	}

	if cfg.StateFile == "" {
		cfg.StateFile = "hosts_state.json"
	}
	if cfg.HostsFile == "" {
		cfg.HostsFile = "hosts.txt"
	}

	// Parse SSH settings.
	cfg.SSH = models.SSHConfig{
		KeyPath:        p.expandPath(p.v.GetString("ssh.key_path")),
		UseAgent:       p.v.GetBool("ssh.use_agent"),
		KnownHosts:     p.expandPath(p.v.GetString("ssh.known_hosts")),
		ConnectTimeout: p.v.GetDuration("ssh.connect_timeout"),
	}
	if !p.v.IsSet("ssh.use_agent") {
		cfg.SSH.UseAgent = true
	}
	if cfg.SSH.ConnectTimeout == 0 {
		cfg.SSH.ConnectTimeout = 10 * time.Second
	}

	// Parse dispatch settings.
	cfg.Dispatch = models.DispatchConfig{
		Concurrency: p.v.GetInt("dispatch.concurrency"),
		Timeout:     p.v.GetDuration("dispatch.timeout"),
		Prompt:      p.v.GetBool("dispatch.prompt"),
	}
	if !p.v.IsSet("dispatch.prompt") {
		cfg.Dispatch.Prompt = true
	}
	if cfg.Dispatch.Concurrency < 0 {
		return nil, fmt.Errorf("dispatch.concurrency must be >= 0")
	}
	if cfg.Dispatch.Timeout < 0 {
		return nil, fmt.Errorf("dispatch.timeout must be >= 0")
	}

	// Parse script settings.
	cfg.Script = models.ScriptConfig{
		RemoteDir:     p.v.GetString("script.remote_dir"),
		Python:        p.v.GetString("script.python"),
		Shell:         p.v.GetString("script.shell"),
		MinNameLength: p.v.GetInt("script.min_name_length"),
	}
	if cfg.Script.RemoteDir == "" {
		cfg.Script.RemoteDir = "/tmp"
	}
	if cfg.Script.Python == "" {
		cfg.Script.Python = "python3"
	}
	if cfg.Script.Shell == "" {
		cfg.Script.Shell = "bash"
	}
	if cfg.Script.MinNameLength == 0 {
		cfg.Script.MinNameLength = 4
	}
	if strings.Contains(cfg.Script.RemoteDir, "..") {
		return nil, fmt.Errorf("script.remote_dir must not contain '..'")
	}

	// Parse liveness settings.
	cfg.Liveness = models.LivenessConfig{
		Method:      p.v.GetString("liveness.method"),
		Timeout:     p.v.GetDuration("liveness.timeout"),
		Concurrency: p.v.GetInt("liveness.concurrency"),
	}
	if cfg.Liveness.Method == "" {
		cfg.Liveness.Method = "icmp"
	}
	validMethods := map[string]bool{"icmp": true, "tcp": true}
	if !validMethods[cfg.Liveness.Method] {
		return nil, fmt.Errorf("liveness.method must be one of: icmp, tcp")
	}
	if cfg.Liveness.Timeout == 0 {
		cfg.Liveness.Timeout = 2 * time.Second
	}
	if cfg.Liveness.Concurrency == 0 {
		cfg.Liveness.Concurrency = 16
	}

	// Parse optional WOL config.
	if p.v.IsSet("wol") { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			BroadcastIP:  p.v.GetString("wol.broadcast_ip"),
			MACs:         map[string]string{},
			Timeout:      p.v.GetDuration("wol.timeout"),
			PollInterval: p.v.GetDuration("wol.poll_interval"),
		}

		// Addresses contain dots, so they are listed rather than used as map keys.
		var hosts []wolHost
		if err := p.v.UnmarshalKey("wol.hosts", &hosts); err != nil {
			return nil, fmt.Errorf("parsing wol.hosts: %w", err)
		}
		if len(hosts) == 0 {
			return nil, fmt.Errorf("wol.hosts is required when wol is configured")
		}
		for i, h := range hosts {
			if h.Address == "" {
				return nil, fmt.Errorf("wol.hosts[%d].address is required", i)
			}
			if _, err := net.ParseMAC(h.MAC); err != nil {
				return nil, fmt.Errorf("wol.hosts[%d]: invalid MAC address %q", i, h.MAC)
			}
			cfg.WOL.MACs[h.Address] = h.MAC
		}

		// Set defaults.
		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 5 * time.Second
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// expandPath expands environment variables and a leading "~/".
func (p *Parser) expandPath(s string) string {
	s = p.expandEnv(s)
	if strings.HasPrefix(s, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			s = filepath.Join(home, s[2:])
		}
	}
	return s
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.StateFile == "" {
		return fmt.Errorf("state_file is required")
	}

	if cfg.SSH.KeyPath != "" {
		if _, err := os.Stat(cfg.SSH.KeyPath); err != nil {
			return fmt.Errorf("ssh.key_path: %w", err)
		}
	}

	if cfg.SSH.KnownHosts != "" {
		if _, err := os.Stat(cfg.SSH.KnownHosts); err != nil {
			return fmt.Errorf("ssh.known_hosts: %w", err)
		}
	}

	return nil
}
