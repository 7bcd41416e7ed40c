package cliui

import (
	"fmt"
	"strings"
	"time"
)

// Truncate shortens s to at most n runes, ending in "..." when there is room.
func Truncate(s string, n int) string {
	rs := []rune(s)
	switch {
	case n <= 0:
		return ""
	case len(rs) <= n:
		return s
	case n <= 3:
		return string(rs[:n])
	default:
		return string(rs[:n-3]) + "..."
	}
}

type KV struct {
	K string
	V string
}

// JoinKV renders k=v pairs separated by two spaces, skipping empty keys.
func JoinKV(pairs ...KV) string {
	var b strings.Builder
	for _, p := range pairs {
		if strings.TrimSpace(p.K) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("  ")
		}
		b.WriteString(p.K + "=" + p.V)
	}
	return b.String()
}

// FormatAbsFull renders a unix-nanosecond wall time as RFC 3339 UTC.
func FormatAbsFull(ts int64) string {
	if ts <= 0 {
		return "-"
	}
	return time.Unix(0, ts).UTC().Format(time.RFC3339Nano)
}

// FormatDuration renders the span between two wall times in seconds.
func FormatDuration(startTS, endTS int64) string {
	if startTS <= 0 || endTS <= 0 || endTS < startTS {
		return "-"
	}
	s := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", time.Duration(endTS-startTS).Seconds()), "0"), ".")
	return s + "s"
}

// FormatMono renders a monotonic clock reading as seconds since boot with
// microsecond precision.
func FormatMono(ns uint64) string {
	if ns == 0 {
		return "-"
	}
	return fmt.Sprintf("%d.%06d", ns/uint64(time.Second), (ns%uint64(time.Second))/uint64(time.Microsecond))
}
