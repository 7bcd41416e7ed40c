package storage

import (
	"database/sql"
	"fmt"
	"strings"
)

const maxQueryLimit = 100000

type QueryOptions struct {
	SessionID string

	Type      string // event type name, TypeAlert, or empty for both
	MinLevel  string // applies to event level and alert severity
	Severity  string // exact alert severity
	PID       uint32
	Contains  string
	SinceMono uint64
	Limit     int
}

// Query returns matching entries ordered by monotonic timestamp, then seq.
func (s *SQLite) Query(opts QueryOptions) ([]Event, error) {
	limit := opts.Limit
	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	opts.Contains = strings.TrimSpace(opts.Contains)
	opts.Severity = strings.TrimSpace(opts.Severity)
	opts.MinLevel = strings.TrimSpace(opts.MinLevel)

	switch opts.Type {
	case TypeAlert:
		return s.queryAlerts(opts, limit)
	case "":
		evs, err := s.queryEvents(opts, limit)
		if err != nil {
			return nil, err
		}
		alerts, err := s.queryAlerts(opts, limit)
		if err != nil {
			return nil, err
		}
		out := append(evs, alerts...)
		sortEvents(out)
		if len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	default:
		return s.queryEvents(opts, limit)
	}
}

func (s *SQLite) queryEvents(opts QueryOptions, limit int) ([]Event, error) {
	where := []string{`session_id=?`}
	args := []any{opts.SessionID}

	if opts.SinceMono > 0 {
		where = append(where, `mono_ns>=?`)
		args = append(args, int64(opts.SinceMono))
	}
	if opts.Type != "" {
		where = append(where, `type=?`)
		args = append(args, opts.Type)
	}
	if r := levelRank(opts.MinLevel); r > 0 {
		where = append(where, `level_num>=?`)
		args = append(args, r)
	}
	if opts.PID > 0 {
		where = append(where, `pid=?`)
		args = append(args, opts.PID)
	}
	if opts.Contains != "" {
		where = append(where, `(summary LIKE ? OR details LIKE ? OR comm LIKE ?)`)
		like := "%" + opts.Contains + "%"
		args = append(args, like, like, like)
	}

	q := fmt.Sprintf(
		`SELECT session_id, seq, ts, mono_ns, type, level, pid, uid, gid, comm, details, summary
		 FROM events WHERE %s ORDER BY mono_ns, seq LIMIT ?`,
		strings.Join(where, " AND "),
	)
	args = append(args, limit)

	rows, err := s.DB.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0, 256)
	for rows.Next() {
		var (
			ev            Event
			mono          int64
			comm, details sql.NullString
		)
		if err := rows.Scan(&ev.SessionID, &ev.Seq, &ev.TS, &mono, &ev.Type, &ev.Level,
			&ev.PID, &ev.UID, &ev.GID, &comm, &details, &ev.Summary); err != nil {
			return nil, err
		}
		ev.MonoNS = uint64(mono)
		ev.Comm = comm.String
		ev.Details = details.String
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLite) queryAlerts(opts QueryOptions, limit int) ([]Event, error) {
	where := []string{`session_id=?`}
	args := []any{opts.SessionID}

	if opts.SinceMono > 0 {
		where = append(where, `mono_ns>=?`)
		args = append(args, int64(opts.SinceMono))
	}
	if opts.Severity != "" {
		where = append(where, `severity=?`)
		args = append(args, opts.Severity)
	}
	if r := levelRank(opts.MinLevel); r > 0 {
		where = append(where, `severity_num>=?`)
		args = append(args, r)
	}
	if opts.PID > 0 {
		where = append(where, `pid=?`)
		args = append(args, opts.PID)
	}
	if opts.Contains != "" {
		where = append(where, `(rule_id LIKE ? OR message LIKE ? OR comm LIKE ?)`)
		like := "%" + opts.Contains + "%"
		args = append(args, like, like, like)
	}

	q := fmt.Sprintf(
		`SELECT session_id, seq, ts, mono_ns, rule_id, title, severity, message, pid, comm, related_seq
		 FROM alerts WHERE %s ORDER BY mono_ns, seq LIMIT ?`,
		strings.Join(where, " AND "),
	)
	args = append(args, limit)

	rows, err := s.DB.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0, 64)
	for rows.Next() {
		var (
			ev          Event
			a           Alert
			mono        int64
			title, comm sql.NullString
			related     sql.NullInt64
		)
		if err := rows.Scan(&ev.SessionID, &ev.Seq, &ev.TS, &mono, &a.RuleID, &title, &a.Severity,
			&a.Message, &ev.PID, &comm, &related); err != nil {
			return nil, err
		}
		a.Title = title.String
		a.RelatedSeq = related.Int64
		ev.MonoNS = uint64(mono)
		ev.Type = TypeAlert
		ev.Comm = comm.String
		ev.Summary = alertSummary(a)
		ev.Alert = &a
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func alertSummary(a Alert) string {
	return fmt.Sprintf("[%s] %s: %s", a.Severity, a.RuleID, a.Message)
}
