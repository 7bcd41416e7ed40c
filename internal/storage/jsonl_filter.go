package storage

import "strings"

// Filter applies QueryOptions to an in-memory log. It backs queries when the
// SQLite index is missing.
func Filter(events []Event, opts QueryOptions) []Event {
	match := opts.matcher()
	var out []Event
	for _, ev := range events {
		if !match(ev) {
			continue
		}
		out = append(out, ev)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out
}

// matcher mirrors the WHERE clauses Query builds.
func (o QueryOptions) matcher() func(Event) bool {
	needle := strings.ToLower(strings.TrimSpace(o.Contains))
	severity := strings.TrimSpace(o.Severity)
	minRank := levelRank(o.MinLevel) // <= 0 disables the level filter

	return func(ev Event) bool {
		switch {
		case o.SessionID != "" && ev.SessionID != o.SessionID,
			o.SinceMono > 0 && ev.MonoNS < o.SinceMono,
			o.Type != "" && ev.Type != o.Type,
			o.PID > 0 && ev.PID != o.PID:
			return false
		}

		rank := levelRank(ev.Level)
		if ev.Type == TypeAlert {
			if ev.Alert == nil {
				return severity == "" && minRank <= 0 && containsFold(ev, needle)
			}
			if severity != "" && ev.Alert.Severity != severity {
				return false
			}
			rank = levelRank(ev.Alert.Severity)
		}
		return (minRank <= 0 || rank >= minRank) && containsFold(ev, needle)
	}
}

func containsFold(ev Event, needle string) bool {
	if needle == "" {
		return true
	}
	for _, s := range []string{ev.Summary, ev.Comm, ev.Details} {
		if strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}
