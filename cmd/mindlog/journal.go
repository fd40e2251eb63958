package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mindlog/mindlog/internal/logstore/schema"
	"github.com/mindlog/mindlog/internal/ui"
)

var logCmd = &cobra.Command{
	Use:     "log <partition> key=value...",
	GroupID: "journal",
	Short:   "Record a journal entry",
	Long: `Record a new entry in one of the five exercise modules.

The partition is module1..module5 (or just 1..5). Each key=value pair becomes
a payload field; values that parse as JSON numbers, booleans or null keep
that type. The keys "tool" and "type" set the entry's classification.

Examples:
  mindlog log module1 tool=Journal mood=7 note="slept well"
  mindlog log 3 tool=Breathing minutes=10`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := schema.ParsePartition(args[0])
		if err != nil {
			return err
		}
		payload, err := parsePairs(args[1:])
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		entry := a.svc.SaveLog(p, payload)
		if entry == nil {
			return fmt.Errorf("failed to save entry in %s", p)
		}
		if err := a.svc.Flush(cmd.Context()); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s Saved %s\n", ui.RenderPass("✓"), ui.RenderMuted(entry.UUID))
		return nil
	},
}

// parsePairs turns key=value arguments into a payload.
func parsePairs(args []string) (map[string]any, error) {
	payload := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q (want key=value)", arg)
		}
		payload[key] = parseValue(raw)
	}
	return payload, nil
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		switch v.(type) {
		case float64, bool, nil:
			return v
		}
	}
	return raw
}

var listCmd = &cobra.Command{
	Use:     "list [partition]",
	GroupID: "journal",
	Short:   "List entries, newest first",
	Long: `List journal entries newest first, from one partition or all of them.

--since accepts natural language ("yesterday", "last monday", "2 weeks ago")
or a Go duration ("36h").

Examples:
  mindlog list
  mindlog list module2 --since "last week"
  mindlog list --since 24h --limit 5 --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sinceText, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		var since time.Time
		if sinceText != "" {
			t, err := parseSince(sinceText, time.Now())
			if err != nil {
				return err
			}
			since = t
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		var entries []*schema.LogEntry
		if len(args) == 1 {
			p, err := schema.ParsePartition(args[0])
			if err != nil {
				return err
			}
			entries = a.svc.GetLogs(p)
		} else {
			entries = a.svc.GetAllLogs()
		}
		entries = filterEntries(entries, since, limit)

		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		ui.PrintEntries(cmd.OutOrStdout(), entries)
		return nil
	},
}

// parseSince resolves a natural-language or duration expression to a time
// before now.
func parseSince(text string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(text); err == nil {
		return now.Add(-d), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand --since %q", text)
	}
	return r.Time, nil
}

// filterEntries keeps entries created at or after since (zero keeps all),
// at most limit of them (zero means no limit). Order is preserved.
func filterEntries(entries []*schema.LogEntry, since time.Time, limit int) []*schema.LogEntry {
	out := make([]*schema.LogEntry, 0, len(entries))
	for _, e := range entries {
		if !since.IsZero() && e.CreatedAt.Before(since) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// statsReport is the machine-readable form of `mindlog stats`.
type statsReport struct {
	Total   int            `json:"total" yaml:"total" toml:"total"`
	ByLabel map[string]int `json:"by_label" yaml:"by_label" toml:"by_label"`
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	GroupID: "journal",
	Short:   "Count entries by tool",
	Long: `Count entries across all partitions, grouped by tool (falling back to
type, then partition).

Formats: text (default), json, yaml, toml.

--save stores the counts as the stats document, which is published to the
cloud when signed in.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		save, _ := cmd.Flags().GetBool("save")

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		stats := a.svc.GetStats()
		if err := writeStats(cmd.OutOrStdout(), format, stats); err != nil {
			return err
		}
		if save {
			return a.svc.SaveStats(cmd.Context(), newStatsReport(stats))
		}
		return nil
	},
}

func newStatsReport(stats map[string]int) statsReport {
	report := statsReport{ByLabel: stats}
	for _, n := range stats {
		report.Total += n
	}
	return report
}

func writeStats(w io.Writer, format string, stats map[string]int) error {
	report := newStatsReport(stats)

	switch format {
	case "text", "":
		if len(stats) == 0 {
			fmt.Fprintln(w, ui.RenderMuted("No entries."))
			return nil
		}
		ui.PrintStats(w, stats)
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	case "toml":
		return toml.NewEncoder(w).Encode(report)
	default:
		return fmt.Errorf("unknown format %q (want text, json, yaml or toml)", format)
	}
}

var clearCmd = &cobra.Command{
	Use:     "clear [partition]",
	GroupID: "journal",
	Short:   "Delete entries from one partition or all of them",
	Long: `Delete entries locally: from the cache, the database and the legacy
mirror. Remote copies are not touched.

Without a partition every partition is cleared. Asks for confirmation unless
--yes is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		var partitions []schema.Partition
		target := "all partitions"
		if len(args) == 1 {
			p, err := schema.ParsePartition(args[0])
			if err != nil {
				return err
			}
			partitions = []schema.Partition{p}
			target = string(p)
		}

		if !yes {
			ok, err := confirm("Clear "+target+"?", "Local entries are deleted. Remote copies are kept.")
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		a.svc.ClearLogs(partitions...)
		if err := a.svc.Flush(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Cleared %s\n", ui.RenderPass("✓"), target)
		return nil
	},
}

func init() {
	listCmd.Flags().String("since", "", "Only entries created since (natural language or duration)")
	listCmd.Flags().IntP("limit", "n", 0, "Show at most n entries (0 = all)")
	listCmd.Flags().Bool("json", false, "Output entries as JSON")
	statsCmd.Flags().StringP("format", "f", "text", "Output format: text, json, yaml or toml")
	statsCmd.Flags().Bool("save", false, "Store the counts as the stats document")
	clearCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	rootCmd.AddCommand(logCmd, listCmd, statsCmd, clearCmd)
}
