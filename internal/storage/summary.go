package storage

import (
	"database/sql"
	"fmt"
)

const defaultTop = 10

type TopPair struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type GroupedAlert struct {
	Severity string `json:"severity"`
	RuleID   string `json:"rule_id"`
	Message  string `json:"message"`
	Count    int    `json:"count"`
	FirstNS  int64  `json:"first_mono_ns"`
	LastNS   int64  `json:"last_mono_ns"`
}

// Summary aggregates one session for `bmon summary`.
type Summary struct {
	Session          SessionRow     `json:"-"`
	ByType           map[string]int `json:"by_type"`
	ByLevel          map[string]int `json:"by_level"`
	AlertsBySeverity map[string]int `json:"alerts_by_severity"`
	TopProcesses     []TopPair      `json:"top_processes"`
	TopSuspicious    []TopPair      `json:"top_suspicious"`
	Alerts           []GroupedAlert `json:"alerts"`
}

const (
	processKey = `COALESCE(comm, '?') || '[' || pid || ']'`

	// Behavioral: not an audit type, at least medium, and not the
	// runaway-activity signal.
	behavioralCond = `level_num >= 1
		AND type NOT IN ('process_created', 'privilege_escalation')
		AND COALESCE(details, '') NOT LIKE 'perf:%'`
)

// collect runs q and scans every row with scan.
func collect[T any](db *sql.DB, scan func(*sql.Rows) (T, bool, error), q string, args ...any) ([]T, error) {
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, ok, err := scan(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, v)
		}
	}
	return out, rows.Err()
}

func scanPair(rows *sql.Rows) (TopPair, bool, error) {
	var k sql.NullString
	var p TopPair
	err := rows.Scan(&k, &p.Count)
	p.Key = k.String
	return p, k.Valid, err
}

func (s *SQLite) counts(q, id string) (map[string]int, error) {
	pairs, err := collect(s.DB, scanPair, q, id)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(pairs))
	for _, p := range pairs {
		out[p.Key] += p.Count
	}
	return out, nil
}

func (s *SQLite) top(cond, id string, n int) ([]TopPair, error) {
	if n <= 0 {
		n = defaultTop
	}
	q := `SELECT ` + processKey + `, COUNT(*) FROM events WHERE session_id=? AND ` + cond +
		` GROUP BY pid, comm ORDER BY COUNT(*) DESC, pid ASC LIMIT ?`
	return collect(s.DB, scanPair, q, id, n)
}

func (s *SQLite) GetSessionRow(id string) (SessionRow, error) {
	var r SessionRow
	err := s.DB.QueryRow(`SELECT id, start_ts, end_ts, backend, event_count, alert_count, meta_json
		FROM sessions WHERE id=?`, id).
		Scan(&r.ID, &r.StartTS, &r.EndTS, &r.Backend, &r.EventCount, &r.AlertCount, &r.MetaJSON)
	return r, err
}

func (s *SQLite) CountEventsByType(id string) (map[string]int, error) {
	return s.counts(`SELECT type, COUNT(*) FROM events WHERE session_id=? GROUP BY type`, id)
}

func (s *SQLite) CountEventsByLevel(id string) (map[string]int, error) {
	return s.counts(`SELECT level, COUNT(*) FROM events WHERE session_id=? GROUP BY level`, id)
}

func (s *SQLite) CountAlertsBySeverity(id string) (map[string]int, error) {
	return s.counts(`SELECT severity, COUNT(*) FROM alerts WHERE session_id=? GROUP BY severity`, id)
}

// TopProcesses ranks processes by event volume.
func (s *SQLite) TopProcesses(id string, n int) ([]TopPair, error) {
	return s.top("1=1", id, n)
}

// TopSuspicious ranks processes by behavioral event count.
func (s *SQLite) TopSuspicious(id string, n int) ([]TopPair, error) {
	return s.top(behavioralCond, id, n)
}

// ListGroupedAlerts folds identical alerts, most severe first.
func (s *SQLite) ListGroupedAlerts(id string, limit int) ([]GroupedAlert, error) {
	if limit <= 0 {
		limit = defaultTop
	}
	return collect(s.DB, func(rows *sql.Rows) (GroupedAlert, bool, error) {
		var g GroupedAlert
		err := rows.Scan(&g.Severity, &g.RuleID, &g.Message, &g.Count, &g.FirstNS, &g.LastNS)
		return g, true, err
	}, `SELECT severity, rule_id, message, COUNT(*), MIN(mono_ns), MAX(mono_ns)
		FROM alerts WHERE session_id=?
		GROUP BY severity, rule_id, message
		ORDER BY MAX(severity_num) DESC, COUNT(*) DESC, rule_id ASC
		LIMIT ?`, id, limit)
}

// Summarize collects every aggregate for a session.
func (s *SQLite) Summarize(id string, top int) (Summary, error) {
	var out Summary
	row, err := s.GetSessionRow(id)
	if err != nil {
		return out, fmt.Errorf("session %s: %w", id, err)
	}
	out.Session = row

	steps := []func() error{
		func() (err error) { out.ByType, err = s.CountEventsByType(id); return },
		func() (err error) { out.ByLevel, err = s.CountEventsByLevel(id); return },
		func() (err error) { out.AlertsBySeverity, err = s.CountAlertsBySeverity(id); return },
		func() (err error) { out.TopProcesses, err = s.TopProcesses(id, top); return },
		func() (err error) { out.TopSuspicious, err = s.TopSuspicious(id, top); return },
		func() (err error) { out.Alerts, err = s.ListGroupedAlerts(id, top); return },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return out, fmt.Errorf("summarize %s: %w", id, err)
		}
	}
	return out, nil
}
