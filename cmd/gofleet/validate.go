package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without contacting any host.`,
	Args:  cobra.NoArgs,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", configFile)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration is valid!")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Summary:")
	fmt.Fprintf(out, "  State file: %s\n", cfg.StateFile)
	fmt.Fprintf(out, "  Hosts file: %s\n", cfg.HostsFile)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "SSH:")
	fmt.Fprintf(out, "  Key: %s\n", valueOr(cfg.SSH.KeyPath, "(none)"))
	fmt.Fprintf(out, "  Agent: %v\n", cfg.SSH.UseAgent)
	fmt.Fprintf(out, "  Known hosts: %s\n", valueOr(cfg.SSH.KnownHosts, "(not verified)"))
	fmt.Fprintf(out, "  Connect timeout: %s\n", cfg.SSH.ConnectTimeout)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Dispatch:")
	fmt.Fprintf(out, "  Concurrency: %s\n", concurrencyText(cfg.Dispatch.Concurrency))
	fmt.Fprintf(out, "  Timeout: %s\n", cfg.Dispatch.Timeout)
	fmt.Fprintf(out, "  Prompt for passwords: %v\n", cfg.Dispatch.Prompt)
	fmt.Fprintf(out, "  Scripts: %s (python: %s, shell: %s)\n", cfg.Script.RemoteDir, cfg.Script.Python, cfg.Script.Shell)
	fmt.Fprintf(out, "  Liveness: %s, timeout %s\n", cfg.Liveness.Method, cfg.Liveness.Timeout)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Optional Features:")
	fmt.Fprintf(out, "  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Fprintf(out, "  Telegram: %v\n", cfg.Telegram != nil)

	if cfg.WOL != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "WOL Configuration:")
		fmt.Fprintf(out, "  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
		fmt.Fprintf(out, "  Hosts with MAC: %d\n", len(cfg.WOL.MACs))
		if cfg.WOL.Timeout > 0 {
			fmt.Fprintf(out, "  Wait: up to %s, polling every %s\n", cfg.WOL.Timeout, cfg.WOL.PollInterval)
		}
	}

	if cfg.Telegram != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Telegram Configuration:")
		fmt.Fprintf(out, "  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Fprintf(out, "  Bot Token: (configured)\n")
	}

	return nil
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func concurrencyText(n int) string {
	if n == 0 {
		return "one worker per host"
	}
	return fmt.Sprint(n)
}
