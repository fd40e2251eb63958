package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mindlog/mindlog/internal/logstore/schema"
)

func plain(t *testing.T) {
	t.Helper()
	SetColor(false)
	t.Cleanup(func() { SetColor(false) })
}

func TestRenderWithoutColorIsPlain(t *testing.T) {
	plain(t)
	for name, render := range map[string]func(string) string{
		"accent": RenderAccent,
		"pass":   RenderPass,
		"warn":   RenderWarn,
		"fail":   RenderFail,
		"muted":  RenderMuted,
	} {
		if got := render("ok"); got != "ok" {
			t.Errorf("%s: Render(ok) = %q, want plain text", name, got)
		}
	}
}

func TestRenderWithColorAddsEscapes(t *testing.T) {
	SetColor(true)
	t.Cleanup(func() { SetColor(false) })

	if got := RenderPass("ok"); !strings.Contains(got, "\x1b[") {
		t.Errorf("RenderPass(ok) = %q, want ANSI escapes", got)
	}
}

func TestFormatPayload(t *testing.T) {
	got := FormatPayload(map[string]any{"note": "slept well", "mood": "calm", "score": 7})
	want := `mood=calm note="slept well" score=7`
	if got != want {
		t.Errorf("FormatPayload() = %q, want %q", got, want)
	}
	if got := FormatPayload(nil); got != "" {
		t.Errorf("FormatPayload(nil) = %q", got)
	}
}

func TestEntryLine(t *testing.T) {
	plain(t)
	created := time.Date(2026, 10, 17, 9, 30, 0, 0, time.Local)
	e := &schema.LogEntry{
		UUID:      "u1",
		Partition: schema.Module1,
		CreatedAt: created,
		Tool:      "Journal",
		Payload:   map[string]any{"mood": "calm"},
	}

	want := "2026-10-17 09:30  module1  Journal  mood=calm"
	if got := EntryLine(e); got != want {
		t.Errorf("EntryLine() = %q, want %q", got, want)
	}
}

func TestPrintEntriesEmpty(t *testing.T) {
	plain(t)
	var buf bytes.Buffer
	PrintEntries(&buf, nil)
	if buf.String() != "No entries.\n" {
		t.Errorf("PrintEntries(nil) = %q", buf.String())
	}
}

func TestSortStats(t *testing.T) {
	got := SortStats(map[string]int{"B": 1, "A": 2, "C": 1})
	want := []StatRow{{"A", 2}, {"B", 1}, {"C", 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SortStats() mismatch (-want +got):\n%s", diff)
	}
}

func TestPrintStats(t *testing.T) {
	plain(t)
	var buf bytes.Buffer
	PrintStats(&buf, map[string]int{"Journal": 2, "B": 1})

	want := "  Journal  2\n  B        1\n  Total    3\n"
	if buf.String() != want {
		t.Errorf("PrintStats() =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestPrintFields(t *testing.T) {
	var buf bytes.Buffer
	PrintFields(&buf, []Field{{"State", "ready"}, {"Last sync", "never"}})

	want := "State:     ready\nLast sync: never\n"
	if buf.String() != want {
		t.Errorf("PrintFields() = %q, want %q", buf.String(), want)
	}
}

func TestAgo(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		t    time.Time
		want string
	}{
		{time.Time{}, "never"},
		{time.Unix(0, 0), "never"},
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-50 * time.Hour), "2d ago"},
	}
	for _, tt := range tests {
		if got := Ago(tt.t, now); got != tt.want {
			t.Errorf("Ago(%v) = %q, want %q", tt.t, got, tt.want)
		}
	}
}

func TestHumanSize(t *testing.T) {
	tests := map[int64]string{
		512:             "512 bytes",
		2048:            "2.0 KB",
		3 * 1024 * 1024: "3.0 MB",
	}
	for size, want := range tests {
		if got := HumanSize(size); got != want {
			t.Errorf("HumanSize(%d) = %q, want %q", size, got, want)
		}
	}
}
