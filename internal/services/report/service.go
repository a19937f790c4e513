// Package report renders dispatch results, host lists and probe outcomes.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/fgeck/gofleet/internal/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const maxDetail = 80

func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// firstLine returns the first non-empty line of s.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func detail(r models.HostResult) string {
	if r.Succeeded() {
		return truncate(firstLine(r.Output), maxDetail)
	}
	if r.Error == nil {
		return ""
	}
	return truncate(firstLine(r.Error.Error()), maxDetail)
}

// RenderResults writes one row per host in aggregate order and a summary line.
func RenderResults(w io.Writer, agg *models.Aggregate) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "HOST\tSTATUS\tEXIT\tDETAIL")

	for _, r := range agg.Results {
		exit := "-"
		if r.Succeeded() || r.ExitCode != 0 {
			exit = strconv.Itoa(r.ExitCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Host.Key(), titleCase(string(r.Status)), exit, detail(r))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	failed := len(agg.Results) - agg.SuccessCount()
	_, err := fmt.Fprintf(w, "\n%d host(s): %d succeeded, %d failed in %s\n",
		len(agg.Results), agg.SuccessCount(), failed, agg.Duration().Round(time.Millisecond))
	return err
}

// resultJSON is one line of RenderResultsJSON output.
type resultJSON struct {
	Host       string `json:"host"`
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
	Output     string `json:"output,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	Error      string `json:"error,omitempty"`
	Runs       int    `json:"runs"`
	DurationMS int64  `json:"duration_ms"`
}

// RenderResultsJSON writes one JSON object per host, newline delimited.
func RenderResultsJSON(w io.Writer, agg *models.Aggregate) error {
	enc := json.NewEncoder(w)
	for _, r := range agg.Results {
		line := resultJSON{
			Host:       r.Host.Key(),
			Status:     string(r.Status),
			ExitCode:   r.ExitCode,
			Output:     r.Output,
			Stderr:     r.Stderr,
			Runs:       r.Runs,
			DurationMS: r.Duration.Milliseconds(),
		}
		if r.Error != nil {
			line.Error = r.Error.Error()
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}

// mask replaces every character of a secret with "*".
func mask(secret string) string {
	return strings.Repeat("*", utf8.RuneCountInString(secret))
}

// RenderHosts writes the numbered fleet. Selected hosts carry a "*" marker.
// With selectedOnly only the selection is listed, numbered by its position in
// the selection as open-shell expects.
func RenderHosts(w io.Writer, snap *models.Snapshot, showSecrets, selectedOnly bool) error {
	if len(snap.AllHosts) == 0 {
		_, err := fmt.Fprintln(w, "No hosts registered.")
		return err
	}

	listed := snap.AllHosts
	if selectedOnly {
		listed = snap.SelectedHosts
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "#\tSEL\tHOST\tSECRET")
	for i, h := range listed {
		marker := ""
		if selectedOnly || snap.IsSelected(h.Key()) {
			marker = "*"
		}
		secret := ""
		if c, ok := snap.Credential(h); ok {
			secret = mask(c.Password)
			if showSecrets {
				secret = c.Password
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i, marker, h.Key(), secret)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\n%d host(s), %d selected\n", len(snap.AllHosts), len(snap.SelectedHosts))
	return err
}

// RenderLiveness writes the probe outcome of every host in hosts order.
func RenderLiveness(w io.Writer, hosts []models.Host, status map[string]bool) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "HOST\tSTATE")
	up := 0
	for _, h := range hosts {
		state := "down"
		if status[h.Key()] {
			state = "up"
			up++
		}
		fmt.Fprintf(tw, "%s\t%s\n", h.Key(), titleCase(state))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\n%d of %d host(s) reachable\n", up, len(hosts))
	return err
}

// RenderLocal writes the output of a local command.
func RenderLocal(w io.Writer, out *models.CommandOutput) error {
	if out == nil {
		return nil
	}
	if _, err := io.WriteString(w, out.Stdout); err != nil {
		return err
	}
	if out.Stderr != "" {
		if _, err := io.WriteString(w, out.Stderr); err != nil {
			return err
		}
	}
	return nil
}

// RenderWake writes the outcome of a wake-on-lan run.
func RenderWake(w io.Writer, results []models.WOLResult) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "HOST\tPACKET\tREACHABLE\tWAITED\tERROR")
	for _, r := range results {
		errText := ""
		if r.Error != nil {
			errText = truncate(r.Error.Error(), maxDetail)
		}
		fmt.Fprintf(tw, "%s\t%t\t%t\t%s\t%s\n",
			r.Host, r.PacketSent, r.Reachable, r.WaitDuration.Round(time.Second), errText)
	}
	return tw.Flush()
}
