package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fgeck/gofleet/internal/models"
	"github.com/fgeck/gofleet/internal/services/credentials"
	"github.com/fgeck/gofleet/internal/services/report"
	"github.com/fgeck/gofleet/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	loadSelect bool

	addPassword     string
	addAskPassword  bool
	addSelect       bool
	addAppendToFile bool

	listAll         bool
	listShowSecrets bool
)

var loadHostsCmd = &cobra.Command{
	Use:   "load-hosts [file]",
	Short: "Load hosts from a hosts file or YAML inventory",
	Long: `Load hosts from a file. Plain files hold one "user@address[:port] [password]"
per line; files ending in .yml or .yaml are read as an inventory with a
top-level "hosts" list. Without a file argument hosts_file is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: loadHosts,
}

var addHostCmd = &cobra.Command{
	Use:   "add-host <user@address[:port]>",
	Short: "Register a single host",
	Args:  cobra.ExactArgs(1),
	RunE:  addHost,
}

var removeHostCmd = &cobra.Command{
	Use:   "remove-host <user@address[:port]>",
	Short: "Remove a host and its stored password",
	Args:  cobra.ExactArgs(1),
	RunE:  removeHost,
}

var listHostsCmd = &cobra.Command{
	Use:     "list-hosts",
	Aliases: []string{"print-hosts"},
	Short:   "Show the selected hosts, or all hosts with --all",
	Args:    cobra.NoArgs,
	RunE:    listHosts,
}

var selectHostsCmd = &cobra.Command{
	Use:   "select-hosts [index...]",
	Short: "Select hosts by their position in list-hosts --all",
	Long: `Select hosts by index. Indices may be separated by spaces or commas.
Out-of-range indices are ignored; when none is valid every host is selected.
Without arguments on a terminal the host list is shown and indices are read
interactively.`,
	RunE: selectHosts,
}

var checkHostsCmd = &cobra.Command{
	Use:   "check-hosts",
	Short: "Probe every registered host for reachability",
	Args:  cobra.NoArgs,
	RunE:  checkHosts,
}

var selectRunningCmd = &cobra.Command{
	Use:   "select-running-hosts",
	Short: "Narrow the selection to reachable hosts",
	Args:  cobra.NoArgs,
	RunE:  selectRunning,
}

func init() {
	loadHostsCmd.Flags().BoolVar(&loadSelect, "select", false, "select the loaded hosts")

	addHostCmd.Flags().StringVarP(&addPassword, "password", "p", "", "password to store for the host")
	addHostCmd.Flags().BoolVar(&addAskPassword, "ask-password", false, "read the password from the terminal")
	addHostCmd.Flags().BoolVar(&addSelect, "select", false, "also select the host")
	addHostCmd.Flags().BoolVar(&addAppendToFile, "append-to-file", false, "also append the host to hosts_file")
	addHostCmd.MarkFlagsMutuallyExclusive("password", "ask-password")

	listHostsCmd.Flags().BoolVar(&listAll, "all", false, "show every registered host")
	listHostsCmd.Flags().BoolVar(&listShowSecrets, "show-secrets", false, "show stored passwords in clear text")
}

func loadHosts(cmd *cobra.Command, args []string) error {
	r, err := newRunner()
	if err != nil {
		return err
	}

	path := ""
	if len(args) == 1 {
		path = args[0]
	}

	added, err := r.LoadHosts(path, loadSelect)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d new host(s) loaded.\n", added)
	return nil
}

func addHost(cmd *cobra.Command, args []string) error {
	r, err := newRunner()
	if err != nil {
		return err
	}

	var cred *models.Credential
	switch {
	case addPassword != "":
		cred = &models.Credential{Password: addPassword}
	case addAskPassword:
		host, err := models.ParseHost(args[0])
		if err != nil {
			return err
		}
		secret, err := credentials.NewTerminalPrompter().Prompt(host)
		if err != nil {
			return err
		}
		if secret != "" {
			cred = &models.Credential{Password: secret}
		}
	}

	added, err := r.AddHost(args[0], cred, runner.AddHostOptions{
		Select:       addSelect,
		AppendToFile: addAppendToFile,
	})
	if err != nil {
		return err
	}

	if added {
		fmt.Fprintln(cmd.OutOrStdout(), "Host added.")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Host already registered.")
	}
	return nil
}

func removeHost(cmd *cobra.Command, args []string) error {
	r, err := newRunner()
	if err != nil {
		return err
	}

	removed, err := r.RemoveHost(args[0])
	if err != nil {
		return err
	}

	if removed {
		fmt.Fprintln(cmd.OutOrStdout(), "Host removed.")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Host not registered.")
	}
	return nil
}

func listHosts(cmd *cobra.Command, args []string) error {
	r, err := newRunner()
	if err != nil {
		return err
	}

	snap, err := r.ListHosts()
	if err != nil {
		return err
	}

	selectedOnly := !listAll && len(snap.SelectedHosts) > 0
	return report.RenderHosts(cmd.OutOrStdout(), snap, listShowSecrets, selectedOnly)
}

func selectHosts(cmd *cobra.Command, args []string) error {
	r, err := newRunner()
	if err != nil {
		return err
	}

	tokens := args
	if len(tokens) == 0 && term.IsTerminal(int(os.Stdin.Fd())) {
		tokens, err = promptIndices(cmd, r)
		if err != nil {
			return err
		}
	}

	selected, err := r.SelectHosts(tokens)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d host(s) selected.\n", len(selected))
	return nil
}

// promptIndices shows the fleet and reads one line of indices from stdin.
func promptIndices(cmd *cobra.Command, r runner.Service) ([]string, error) {
	snap, err := r.ListHosts()
	if err != nil {
		return nil, err
	}
	if err := report.RenderHosts(cmd.OutOrStdout(), snap, false, false); err != nil {
		return nil, err
	}
	if len(snap.AllHosts) == 0 {
		return nil, nil
	}

	fmt.Fprint(cmd.OutOrStdout(), "Indices to select (empty for all): ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return []string{strings.TrimSpace(line)}, nil
}

func checkHosts(cmd *cobra.Command, args []string) error {
	r, err := newRunner()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	hosts, status, err := r.CheckHosts(ctx)
	if err != nil {
		return err
	}

	return report.RenderLiveness(cmd.OutOrStdout(), hosts, status)
}

func selectRunning(cmd *cobra.Command, args []string) error {
	r, err := newRunner()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	selected, err := r.SelectReachable(ctx)
	if err != nil {
		return err
	}

	if len(selected) == 0 {
		log.Warn().Msg("no host is reachable, selection is now empty")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d reachable host(s) selected.\n", len(selected))
	return nil
}
