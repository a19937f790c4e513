package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive prompt accepting the other gofleet commands",
	Long: `Start an interactive prompt. Every line is run as a gofleet command, for
example "select-hosts 0 2" or "run-command uptime". "exit" or end of input
leaves the prompt.`,
	Args: cobra.NoArgs,
	RunE: runConsole,
}

func runConsole(cmd *cobra.Command, args []string) error {
	in := bufio.NewScanner(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, `Type a command, "help" to list them or "exit" to leave.`)
	for {
		fmt.Fprint(out, "gofleet> ")
		if !in.Scan() {
			fmt.Fprintln(out)
			return in.Err()
		}

		words, err := splitWords(in.Text())
		if err != nil {
			log.Error().Err(err).Msg("cannot parse line")
			continue
		}
		if len(words) == 0 {
			continue
		}

		switch words[0] {
		case "exit", "quit":
			return nil
		case cmd.Name():
			log.Warn().Msg("already in the console")
			continue
		}

		resetFlags(cmd.Root())
		cmd.Root().SetArgs(words)
		if err := cmd.Root().Execute(); err != nil {
			log.Error().Err(err).Msg("command failed")
		}
	}
}

// resetFlags restores the subcommand flags to their defaults so that values
// from one console line do not leak into the next. Root flags are kept.
func resetFlags(root *cobra.Command) {
	for _, c := range root.Commands() {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
		resetFlags(c)
	}
}

// splitWords splits a console line into words. Single and double quotes group
// words; a backslash escapes the next character outside single quotes.
func splitWords(line string) ([]string, error) {
	var words []string
	var cur strings.Builder
	inWord := false
	var quote rune
	escaped := false

	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if escaped {
		return nil, fmt.Errorf("trailing backslash")
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words, nil
}
