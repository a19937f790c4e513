package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/gofleet/internal/models"
	"github.com/fgeck/gofleet/internal/services/report"
	"github.com/fgeck/gofleet/internal/services/runner"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	repetitions int
	interval    time.Duration
)

var runLocalCmd = &cobra.Command{
	Use:   "run-local <command>",
	Short: "Run a command on this machine",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLocal,
}

var runCommandCmd = &cobra.Command{
	Use:   "run-command <command>",
	Short: "Run a command on every selected host",
	Long: `Run a command on every selected host in parallel and print one row per host.

A command starting with "sudo" is run through sudo with the stored password
and is executed on one host at a time. Use "--" before commands that carry
their own flags.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCommand,
}

var executeScriptCmd = &cobra.Command{
	Use:   "execute-script <path>",
	Short: "Upload a .py, .sh or .bash script, run it on every selected host and remove it",
	Args:  cobra.ExactArgs(1),
	RunE:  executeScript,
}

var openShellCmd = &cobra.Command{
	Use:   "open-shell [n]",
	Short: "Open an interactive shell on the n-th selected host (as numbered by list-hosts)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  openShell,
}

var wakeHostsCmd = &cobra.Command{
	Use:   "wake-hosts",
	Short: "Send Wake-on-LAN packets to the selected hosts",
	Args:  cobra.NoArgs,
	RunE:  wakeHosts,
}

func init() {
	runCommandCmd.Flags().IntVarP(&repetitions, "repetitions", "n", 1, "how many times to run the command on each host")
	runCommandCmd.Flags().DurationVarP(&interval, "interval", "i", 0, "pause between repetitions on the same host")
}

func runLocal(cmd *cobra.Command, args []string) error {
	r, err := newRunner()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	out, runErr := r.RunLocal(ctx, strings.Join(args, " "))
	if err := report.RenderLocal(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	return runErr
}

func runCommand(cmd *cobra.Command, args []string) error {
	r, err := newRunner()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	agg, err := r.RunCommand(ctx, strings.Join(args, " "), repetitions, interval)
	if err != nil {
		return err
	}

	return renderAggregate(cmd.OutOrStdout(), agg)
}

func executeScript(cmd *cobra.Command, args []string) error {
	r, err := newRunner()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	agg, err := r.ExecuteScript(ctx, args[0])
	if err != nil {
		return err
	}

	return renderAggregate(cmd.OutOrStdout(), agg)
}

// renderAggregate prints the results and turns host failures into an error
// so that the exit status reflects them.
func renderAggregate(w io.Writer, agg *models.Aggregate) error {
	render := report.RenderResults
	if jsonOutput {
		render = report.RenderResultsJSON
	}
	if err := render(w, agg); err != nil {
		return err
	}

	if failed := len(agg.Failed()); failed > 0 {
		return fmt.Errorf("%d of %d host(s) failed", failed, len(agg.Results))
	}
	return nil
}

func openShell(cmd *cobra.Command, args []string) error {
	r, err := newRunner()
	if err != nil {
		return err
	}

	choice := ""
	if len(args) == 1 {
		choice = args[0]
	} else if term.IsTerminal(int(os.Stdin.Fd())) {
		choice, err = promptShellIndex(cmd, r)
		if err != nil {
			return err
		}
	}

	index := 0
	if choice != "" {
		index, err = strconv.Atoi(choice)
		if err != nil {
			return models.NewValidationError("invalid host index %q", choice)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	return r.OpenShell(ctx, index, os.Stdin, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// promptShellIndex lists the selection with the numbers open-shell accepts and
// reads one index from stdin.
func promptShellIndex(cmd *cobra.Command, r runner.Service) (string, error) {
	snap, err := r.ListHosts()
	if err != nil {
		return "", err
	}
	if len(snap.SelectedHosts) == 0 {
		return "", models.NewValidationError("no target hosts selected")
	}
	if err := report.RenderHosts(cmd.OutOrStdout(), snap, false, true); err != nil {
		return "", err
	}

	fmt.Fprint(cmd.OutOrStdout(), "Host number [0]: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func wakeHosts(cmd *cobra.Command, args []string) error {
	r, err := newRunner()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	results, err := r.WakeHosts(ctx)
	if err != nil {
		return err
	}

	return report.RenderWake(cmd.OutOrStdout(), results)
}
