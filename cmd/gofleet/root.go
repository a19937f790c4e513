package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fgeck/gofleet/internal/config"
	"github.com/fgeck/gofleet/internal/models"
	"github.com/fgeck/gofleet/internal/services/runner"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	stateFile  string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "gofleet",
	Short: "Run commands and scripts on a fleet of SSH hosts",
	Long: `gofleet keeps a registry of SSH hosts and dispatches work to them:
  - load, add, remove and select hosts
  - check which hosts are reachable
  - run a command or upload and run a script on every selected host
  - open an interactive shell on one host
  - wake hosts with Wake-on-LAN
  - send a Telegram summary after each dispatch

The registry is kept in a JSON state file between invocations.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (optional)")
	rootCmd.PersistentFlags().StringVar(&stateFile, "state", "", "state file (overrides state_file)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs and results in JSON format")

	rootCmd.AddCommand(loadHostsCmd)
	rootCmd.AddCommand(addHostCmd)
	rootCmd.AddCommand(removeHostCmd)
	rootCmd.AddCommand(listHostsCmd)
	rootCmd.AddCommand(selectHostsCmd)
	rootCmd.AddCommand(checkHostsCmd)
	rootCmd.AddCommand(selectRunningCmd)
	rootCmd.AddCommand(runLocalCmd)
	rootCmd.AddCommand(runCommandCmd)
	rootCmd.AddCommand(executeScriptCmd)
	rootCmd.AddCommand(openShellCmd)
	rootCmd.AddCommand(wakeHostsCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(consoleCmd)
}

func setupLogging() {
	// Logs go to stderr so that reports on stdout stay clean.
	if jsonOutput {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// loadConfig reads --config when given, otherwise the defaults, and applies --state.
func loadConfig() (*models.Config, error) {
	parser := config.NewParser()

	var cfg *models.Config
	var err error
	if configFile != "" {
		cfg, err = parser.LoadFile(configFile)
	} else {
		cfg, err = parser.Defaults()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if stateFile != "" {
		cfg.StateFile = stateFile
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Debug().
		Str("config", configFile).
		Str("state", cfg.StateFile).
		Msg("configuration loaded")

	return cfg, nil
}

func newRunner() (*runner.Impl, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return runner.New(cfg, log.Logger), nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		log.Error().Err(err).Msg("command failed")
	}
	return err
}
