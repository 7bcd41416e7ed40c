package cliui

import (
	"strings"
	"testing"
)

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"abcdef", 5, "ab..."},
		{"abc", 5, "abc"},
		{"abcdef", 2, "ab"},
		{"abc", 0, ""},
		{"日本語テキスト", 5, "日本..."},
	}
	for _, tc := range cases {
		if got := Truncate(tc.in, tc.n); got != tc.want {
			t.Fatalf("Truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestJoinKV(t *testing.T) {
	got := JoinKV(KV{K: "emitted", V: "3"}, KV{K: "", V: "x"}, KV{K: "dropped", V: "0"})
	if got != "emitted=3  dropped=0" {
		t.Fatalf("got %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	start := int64(1_000_000_000)
	if got := FormatDuration(start, start+2_500_000_000); got != "2.5s" {
		t.Fatalf("got %q", got)
	}
	if got := FormatDuration(start, start); got != "0s" {
		t.Fatalf("zero span: got %q", got)
	}
	if got := FormatDuration(start, 0); got != "-" {
		t.Fatalf("open span: got %q", got)
	}
}

func TestFormatMono(t *testing.T) {
	if got := FormatMono(0); got != "-" {
		t.Fatalf("zero: got %q", got)
	}
	if got := FormatMono(12_000_345_678); got != "12.000345" {
		t.Fatalf("mono: got %q", got)
	}
}

func TestTableTruncatesToMaxWidth(t *testing.T) {
	tbl := NewTable(Column{Name: "a", MaxWidth: 3}, Column{Name: "b", MaxWidth: 5})
	tbl.Row("1", "hello world")
	out := tbl.String()
	if !strings.Contains(out, "he...") {
		t.Fatalf("unexpected table output: %q", out)
	}
	if tbl.Len() != 1 {
		t.Fatalf("len=%d", tbl.Len())
	}
}

func TestTableMeasuresVisibleWidth(t *testing.T) {
	colored := Colorizer{Enabled: true}.Type("process_created")
	tbl := NewTable(Column{Name: "type", MaxWidth: 16}, Column{Name: "pid", AlignRight: true})
	tbl.Row(colored, "123")
	plain := StripANSI(tbl.String())
	if strings.Contains(plain, "...") {
		t.Fatalf("ansi cell should not be truncated by hidden escape bytes: %q", plain)
	}
	lines := strings.Split(strings.TrimRight(plain, "\n"), "\n")
	if len(lines) != 3 || lines[2] != "process_created  123" {
		t.Fatalf("unexpected layout: %q", lines)
	}
}

func TestColorizerLevel(t *testing.T) {
	off := Colorizer{}
	if got := off.Level("critical"); got != "critical" {
		t.Fatalf("disabled colorizer changed text: %q", got)
	}
	on := Colorizer{Enabled: true}
	if got := on.Level("critical"); got != "\x1b[1;31mcritical\x1b[0m" {
		t.Fatalf("critical: got %q", got)
	}
	if got := on.Level("bogus"); got != "bogus" {
		t.Fatalf("unknown level should be untouched: %q", got)
	}
	if got := StripANSI(on.Type("alert")); got != "alert" {
		t.Fatalf("type: got %q", got)
	}
}
