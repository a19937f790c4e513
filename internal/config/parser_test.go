package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/gofleet/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_Defaults(t *testing.T) {
	parser := NewParser()
	cfg, err := parser.Defaults()

	require.NoError(t, err)
	assert.Equal(t, "hosts_state.json", cfg.StateFile)
	assert.Equal(t, "hosts.txt", cfg.HostsFile)

	// SSH
	assert.True(t, cfg.SSH.UseAgent)
	assert.Equal(t, 10*time.Second, cfg.SSH.ConnectTimeout)
	assert.Empty(t, cfg.SSH.KnownHosts)

	// Dispatch
	assert.Equal(t, 0, cfg.Dispatch.Concurrency)
	assert.Equal(t, time.Duration(0), cfg.Dispatch.Timeout)
	assert.True(t, cfg.Dispatch.Prompt)

	// Script
	assert.Equal(t, "/tmp", cfg.Script.RemoteDir)
	assert.Equal(t, "python3", cfg.Script.Python)
	assert.Equal(t, "bash", cfg.Script.Shell)
	assert.Equal(t, 4, cfg.Script.MinNameLength)

	// Liveness
	assert.Equal(t, "icmp", cfg.Liveness.Method)
	assert.Equal(t, 2*time.Second, cfg.Liveness.Timeout)
	assert.Equal(t, 16, cfg.Liveness.Concurrency)

	assert.Nil(t, cfg.WOL)
	assert.Nil(t, cfg.Telegram)
}

func TestParser_LoadReader_FullConfig(t *testing.T) {
	yaml := `
state_file: /var/lib/gofleet/state.json
hosts_file: /etc/gofleet/hosts.txt

ssh:
  key_path: /home/ops/.ssh/id_ed25519
  use_agent: false
  known_hosts: /home/ops/.ssh/known_hosts
  connect_timeout: 3s

dispatch:
  concurrency: 8
  timeout: 45s
  prompt: false

script:
  remote_dir: /var/tmp
  python: python
  shell: sh
  min_name_length: 6

liveness:
  method: tcp
  timeout: 500ms
  concurrency: 4

wol:
  broadcast_ip: "192.168.1.255"
  timeout: 2m
  poll_interval: 10s
  hosts:
    - address: 192.168.1.10
      mac: "AA:BB:CC:DD:EE:FF"
    - address: nas.lan
      mac: "11:22:33:44:55:66"

telegram:
  bot_token: "123456:ABC"
  chat_id: "-100123456789"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)

	assert.Equal(t, "/var/lib/gofleet/state.json", cfg.StateFile)
	assert.Equal(t, "/etc/gofleet/hosts.txt", cfg.HostsFile)

	// SSH
	assert.Equal(t, "/home/ops/.ssh/id_ed25519", cfg.SSH.KeyPath)
	assert.False(t, cfg.SSH.UseAgent)
	assert.Equal(t, "/home/ops/.ssh/known_hosts", cfg.SSH.KnownHosts)
	assert.Equal(t, 3*time.Second, cfg.SSH.ConnectTimeout)

	// Dispatch
	assert.Equal(t, 8, cfg.Dispatch.Concurrency)
	assert.Equal(t, 45*time.Second, cfg.Dispatch.Timeout)
	assert.False(t, cfg.Dispatch.Prompt)

	// Script
	assert.Equal(t, "/var/tmp", cfg.Script.RemoteDir)
	assert.Equal(t, "python", cfg.Script.Python)
	assert.Equal(t, "sh", cfg.Script.Shell)
	assert.Equal(t, 6, cfg.Script.MinNameLength)

	// Liveness
	assert.Equal(t, "tcp", cfg.Liveness.Method)
	assert.Equal(t, 500*time.Millisecond, cfg.Liveness.Timeout)
	assert.Equal(t, 4, cfg.Liveness.Concurrency)

	// WOL
	require.NotNil(t, cfg.WOL)
	assert.Equal(t, "192.168.1.255", cfg.WOL.BroadcastIP)
	assert.Equal(t, 2*time.Minute, cfg.WOL.Timeout)
	assert.Equal(t, 10*time.Second, cfg.WOL.PollInterval)
	assert.Equal(t, map[string]string{
		"192.168.1.10": "AA:BB:CC:DD:EE:FF",
		"nas.lan":      "11:22:33:44:55:66",
	}, cfg.WOL.MACs)

	// Telegram
	require.NotNil(t, cfg.Telegram)
	assert.Equal(t, "123456:ABC", cfg.Telegram.BotToken)
	assert.Equal(t, "-100123456789", cfg.Telegram.ChatID)
}

func TestParser_LoadReader_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "env_token")
	t.Setenv("TEST_STATE_DIR", "/srv/fleet")

	yaml := `
state_file: "${TEST_STATE_DIR}/state.json"
telegram:
  bot_token: "${TEST_BOT_TOKEN}"
  chat_id: "42"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, "/srv/fleet/state.json", cfg.StateFile)
	assert.Equal(t, "env_token", cfg.Telegram.BotToken)
}

func TestParser_LoadReader_HomeExpansion(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	yaml := `
ssh:
  key_path: ~/.ssh/id_rsa
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".ssh", "id_rsa"), cfg.SSH.KeyPath)
}

func TestParser_LoadReader_InvalidLivenessMethod(t *testing.T) {
	yaml := `
liveness:
  method: arp
`
	parser := NewParser()
	_, err := parser.LoadReader(yaml)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "liveness.method must be one of")
}

func TestParser_LoadReader_NegativeConcurrency(t *testing.T) {
	yaml := `
dispatch:
  concurrency: -1
`
	parser := NewParser()
	_, err := parser.LoadReader(yaml)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "dispatch.concurrency must be >= 0")
}

func TestParser_LoadReader_RemoteDirTraversal(t *testing.T) {
	yaml := `
script:
  remote_dir: /tmp/../etc
`
	parser := NewParser()
	_, err := parser.LoadReader(yaml)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "script.remote_dir")
}

func TestParser_LoadReader_WOL_MissingHosts(t *testing.T) {
	yaml := `
wol:
  broadcast_ip: "192.168.1.255"
`
	parser := NewParser()
	_, err := parser.LoadReader(yaml)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "wol.hosts is required")
}

func TestParser_LoadReader_WOL_InvalidMAC(t *testing.T) {
	yaml := `
wol:
  hosts:
    - address: 10.0.0.1
      mac: "not-a-mac"
`
	parser := NewParser()
	_, err := parser.LoadReader(yaml)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid MAC address")
}

func TestParser_LoadReader_WOL_Defaults(t *testing.T) {
	yaml := `
wol:
  hosts:
    - address: 10.0.0.1
      mac: "AA:BB:CC:DD:EE:FF"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	require.NotNil(t, cfg.WOL)
	assert.Equal(t, "255.255.255.255", cfg.WOL.BroadcastIP)
	assert.Equal(t, time.Duration(0), cfg.WOL.Timeout)
	assert.Equal(t, 5*time.Second, cfg.WOL.PollInterval)
}

func TestParser_LoadReader_Telegram_MissingToken(t *testing.T) {
	yaml := `
telegram:
  chat_id: "123"
`
	parser := NewParser()
	_, err := parser.LoadReader(yaml)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "telegram.bot_token is required")
}

func TestParser_LoadReader_Telegram_MissingChatID(t *testing.T) {
	yaml := `
telegram:
  bot_token: "123:ABC"
`
	parser := NewParser()
	_, err := parser.LoadReader(yaml)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "telegram.chat_id is required")
}

func TestParser_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gofleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dispatch:\n  concurrency: 3\n"), 0o600))

	parser := NewParser()
	cfg, err := parser.LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Dispatch.Concurrency)
}

func TestParser_LoadFile_NotFound(t *testing.T) {
	parser := NewParser()
	_, err := parser.LoadFile("/nonexistent/gofleet.yaml")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestValidate_Nil(t *testing.T) {
	err := Validate(nil)
	assert.Error(t, err)
}

func TestValidate_MissingKeyFile(t *testing.T) {
	cfg := &models.Config{
		StateFile: "state.json",
		SSH:       models.SSHConfig{KeyPath: "/nonexistent/id_rsa"},
	}

	err := Validate(cfg)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ssh.key_path")
}

func TestValidate_Valid(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, []byte("key"), 0o600))

	cfg := &models.Config{
		StateFile: "state.json",
		SSH:       models.SSHConfig{KeyPath: keyPath},
	}

	assert.NoError(t, Validate(cfg))
}
