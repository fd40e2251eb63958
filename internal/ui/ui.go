// Package ui renders CLI output.
//
// Colour is chosen once from stdout: a terminal gets the profile termenv
// detects from the environment, anything else (pipes, files, NO_COLOR) gets
// plain text.
package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/mindlog/mindlog/internal/logstore/schema"
)

var renderer = lipgloss.NewRenderer(os.Stdout)

var (
	accentStyle = renderer.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true)
	passStyle   = renderer.NewStyle().Foreground(lipgloss.Color("#04B575"))
	warnStyle   = renderer.NewStyle().Foreground(lipgloss.Color("#FFB454"))
	failStyle   = renderer.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Bold(true)
	mutedStyle  = renderer.NewStyle().Foreground(lipgloss.Color("#767676"))
	boldStyle   = renderer.NewStyle().Bold(true)
	labelStyle  = renderer.NewStyle().Foreground(lipgloss.Color("#5FAFFF"))
)

func init() {
	renderer.SetColorProfile(DetectProfile(os.Stdout))
}

// DetectProfile returns the colour profile for output written to f.
func DetectProfile(f *os.File) termenv.Profile {
	if os.Getenv("NO_COLOR") != "" || !term.IsTerminal(int(f.Fd())) {
		return termenv.Ascii
	}
	return termenv.NewOutput(f).EnvColorProfile()
}

// SetColor turns colour output on or off, overriding detection.
func SetColor(enabled bool) {
	if !enabled {
		renderer.SetColorProfile(termenv.Ascii)
		return
	}
	renderer.SetColorProfile(termenv.TrueColor)
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }
func RenderBold(s string) string   { return boldStyle.Render(s) }

// EntryLine formats one entry as a single line:
//
//	2026-10-17 09:30  module1  Journal  mood=calm note="slept well"
func EntryLine(e *schema.LogEntry) string {
	var b strings.Builder
	b.WriteString(mutedStyle.Render(e.CreatedAt.Local().Format("2006-01-02 15:04")))
	b.WriteString("  ")
	b.WriteString(string(e.Partition))
	b.WriteString("  ")
	b.WriteString(labelStyle.Render(e.Label()))
	if fields := FormatPayload(e.Payload); fields != "" {
		b.WriteString("  ")
		b.WriteString(fields)
	}
	return b.String()
}

// FormatPayload renders payload as key=value pairs in key order. Values
// containing spaces are quoted.
func FormatPayload(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprint(payload[k])
		if strings.ContainsAny(v, " \t") {
			v = fmt.Sprintf("%q", v)
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

// PrintEntries writes entries one per line, or a hint when there are none.
func PrintEntries(w io.Writer, entries []*schema.LogEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, RenderMuted("No entries."))
		return
	}
	for _, e := range entries {
		fmt.Fprintln(w, EntryLine(e))
	}
}

// StatRow is one label count.
type StatRow struct {
	Label string
	Count int
}

// SortStats orders counts by descending count, then label.
func SortStats(stats map[string]int) []StatRow {
	rows := make([]StatRow, 0, len(stats))
	for label, n := range stats {
		rows = append(rows, StatRow{Label: label, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Label < rows[j].Label
	})
	return rows
}

// PrintStats writes an aligned count table with a total.
func PrintStats(w io.Writer, stats map[string]int) {
	rows := SortStats(stats)
	width := len("Total")
	total := 0
	for _, r := range rows {
		if len(r.Label) > width {
			width = len(r.Label)
		}
		total += r.Count
	}

	for _, r := range rows {
		fmt.Fprintf(w, "  %s  %d\n", labelStyle.Render(pad(r.Label, width)), r.Count)
	}
	fmt.Fprintf(w, "  %s  %d\n", boldStyle.Render(pad("Total", width)), total)
}

// Field is one line of a status block.
type Field struct {
	Name  string
	Value string
}

// PrintFields writes name: value lines with the values aligned.
func PrintFields(w io.Writer, fields []Field) {
	width := 0
	for _, f := range fields {
		if len(f.Name) > width {
			width = len(f.Name)
		}
	}
	for _, f := range fields {
		fmt.Fprintf(w, "%s %s\n", pad(f.Name+":", width+1), f.Value)
	}
}

// Ago renders t relative to now ("3m ago"), or "never" for the zero time
// and the Unix epoch.
func Ago(t, now time.Time) string {
	if t.IsZero() || t.Unix() == 0 {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// HumanSize formats a byte count.
func HumanSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
