package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLite is the per-session query index. The JSONL log stays authoritative;
// the index only accelerates query and summary.
type SQLite struct {
	DB *sql.DB
}

// migrations[i] upgrades a database at user_version i to i+1.
var migrations = []string{
	`CREATE TABLE sessions(
		id          TEXT PRIMARY KEY,
		start_ts    INTEGER,
		end_ts      INTEGER,
		backend     TEXT,
		event_count INTEGER,
		alert_count INTEGER,
		meta_json   TEXT
	);
	CREATE TABLE events(
		session_id TEXT,
		seq        INTEGER,
		ts         INTEGER,
		mono_ns    INTEGER,
		type       TEXT,
		level      TEXT,
		level_num  INTEGER,
		pid        INTEGER,
		uid        INTEGER,
		gid        INTEGER,
		comm       TEXT,
		details    TEXT,
		summary    TEXT,
		PRIMARY KEY(session_id, seq)
	);
	CREATE TABLE alerts(
		session_id   TEXT,
		seq          INTEGER,
		ts           INTEGER,
		mono_ns      INTEGER,
		rule_id      TEXT,
		title        TEXT,
		severity     TEXT,
		severity_num INTEGER,
		message      TEXT,
		pid          INTEGER,
		comm         TEXT,
		related_seq  INTEGER,
		PRIMARY KEY(session_id, seq)
	);
	CREATE INDEX events_by_mono  ON events(session_id, mono_ns, seq);
	CREATE INDEX events_by_type  ON events(session_id, type);
	CREATE INDEX events_by_pid   ON events(session_id, pid);
	CREATE INDEX alerts_by_mono  ON alerts(session_id, mono_ns, seq);
	CREATE INDEX alerts_by_sev   ON alerts(session_id, severity);`,
}

func schemaVersion() int { return len(migrations) }

const (
	insertSessionSQL = `INSERT INTO sessions(id, start_ts, end_ts, backend, event_count, alert_count, meta_json)
		VALUES(?, ?, ?, ?, ?, ?, ?)`
	finishSessionSQL = `UPDATE sessions SET end_ts=?, event_count=?, alert_count=?, meta_json=? WHERE id=?`
	insertEventSQL   = `INSERT INTO events(session_id, seq, ts, mono_ns, type, level, level_num, pid, uid, gid, comm, details, summary)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	insertAlertSQL = `INSERT INTO alerts(session_id, seq, ts, mono_ns, rule_id, title, severity, severity_num, message, pid, comm, related_seq)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// dsn builds a modernc file URI with per-connection pragmas.
func dsn(path string, pragmas ...string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	u := url.URL{Scheme: "file", Path: path, RawQuery: q.Encode()}
	return u.String()
}

func openDB(path string, pragmas ...string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn(path, pragmas...))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; also keeps per-connection pragmas on a single connection.
	db.SetMaxOpenConns(1)
	return db, nil
}

func userVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return v, nil
}

// OpenSQLite opens or creates the index at path and migrates it to the
// current schema.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	// The file is created up front so its mode is ours rather than the
	// driver's default.
	if f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600); err != nil {
		return nil, fmt.Errorf("create index %s: %w", path, err)
	} else {
		_ = f.Close()
	}

	db, err := openDB(path, "journal_mode(WAL)", "synchronous(NORMAL)", "busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{DB: db}, nil
}

// OpenSQLiteReadOnly opens an existing index for queries. It refuses a
// database whose schema it does not understand.
func OpenSQLiteReadOnly(path string) (*SQLite, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	// mode=ro is not used: reading a WAL database may need its sidecar files.
	db, err := openDB(path, "busy_timeout(5000)", "query_only(1)")
	if err != nil {
		return nil, err
	}
	v, err := userVersion(db)
	if err == nil && v != schemaVersion() {
		err = fmt.Errorf("unsupported index schema version %d", v)
	}
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{DB: db}, nil
}

func migrate(db *sql.DB) error {
	v, err := userVersion(db)
	if err != nil {
		return err
	}
	if v > schemaVersion() {
		return fmt.Errorf("index schema version %d is newer than supported %d", v, schemaVersion())
	}
	for ; v < schemaVersion(); v++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			return errors.Join(fmt.Errorf("migrate index to v%d: %w", v+1, err), tx.Rollback())
		}
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d`, v+1)); err != nil {
			return errors.Join(fmt.Errorf("set user_version: %w", err), tx.Rollback())
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Close() error { return s.DB.Close() }

type SessionRow struct {
	ID         string
	StartTS    int64
	EndTS      int64
	Backend    string
	EventCount int64
	AlertCount int
	MetaJSON   string
}

func (s *SQLite) InsertSession(r SessionRow) error {
	_, err := s.DB.Exec(insertSessionSQL, r.ID, r.StartTS, r.EndTS, r.Backend, r.EventCount, r.AlertCount, r.MetaJSON)
	return err
}

func (s *SQLite) UpdateSessionEnd(id string, endTS int64, events int64, alerts int, metaJSON string) error {
	_, err := s.DB.Exec(finishSessionSQL, endTS, events, alerts, metaJSON, id)
	return err
}

func (s *SQLite) InsertEvent(e Event) error {
	_, err := s.DB.Exec(insertEventSQL,
		e.SessionID, e.Seq, e.TS, int64(e.MonoNS), e.Type, e.Level, levelRank(e.Level),
		e.PID, e.UID, e.GID, optional(e.Comm), optional(e.Details), e.Summary)
	return err
}

func (s *SQLite) InsertAlert(e Event) error {
	a := e.Alert
	if a == nil {
		return fmt.Errorf("index alert seq %d: record carries no alert", e.Seq)
	}
	_, err := s.DB.Exec(insertAlertSQL,
		e.SessionID, e.Seq, e.TS, int64(e.MonoNS), a.RuleID, optional(a.Title), a.Severity, levelRank(a.Severity),
		a.Message, e.PID, optional(e.Comm), optional(a.RelatedSeq))
	return err
}

// optional maps a zero value to SQL NULL.
func optional[T comparable](v T) any {
	var zero T
	if v == zero {
		return nil
	}
	return v
}
