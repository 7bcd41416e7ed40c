package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/melonattacker/bmon/internal/event"
)

const (
	EventsFile = "events.jsonl"
	IndexFile  = "index.sqlite"
)

// Store writes one session to both the JSONL log and the SQLite index.
type Store struct {
	mu sync.Mutex

	sessionID string
	seq       int64

	jsonl *JSONLWriter
	sql   *SQLite

	eventCount int64
	alertCount int
}

type OpenParams struct {
	SessionID string
	Dir       string
	StartTS   int64
	Backend   string
	MetaJSON  string
}

func Open(p OpenParams) (*Store, error) {
	jsonl, err := NewJSONLWriter(filepath.Join(p.Dir, EventsFile))
	if err != nil {
		return nil, err
	}
	sqlite, err := OpenSQLite(filepath.Join(p.Dir, IndexFile))
	if err != nil {
		_ = jsonl.Close()
		return nil, err
	}
	if err := sqlite.InsertSession(SessionRow{
		ID:       p.SessionID,
		StartTS:  p.StartTS,
		Backend:  p.Backend,
		MetaJSON: p.MetaJSON,
	}); err != nil {
		_ = sqlite.Close()
		_ = jsonl.Close()
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &Store{sessionID: p.SessionID, jsonl: jsonl, sql: sqlite}, nil
}

func (s *Store) SessionID() string { return s.sessionID }

func (s *Store) Close(endTS int64, metaJSON string) error {
	events, alerts := s.Counts()

	var errs []error
	if s.sql != nil {
		if err := s.sql.UpdateSessionEnd(s.sessionID, endTS, events, alerts, metaJSON); err != nil {
			errs = append(errs, err)
		}
		if err := s.sql.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.jsonl != nil {
		if err := s.jsonl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) nextSeqLocked() int64 {
	s.seq++
	return s.seq
}

// AppendEvent stores a security event and returns the allocated seq.
func (s *Store) AppendEvent(ts int64, rec event.Record, summary string) (Event, error) {
	s.mu.Lock()
	seq := s.nextSeqLocked()
	s.eventCount++
	s.mu.Unlock()

	ev := Event{
		SessionID: s.sessionID,
		Seq:       seq,
		TS:        ts,
		MonoNS:    rec.Timestamp,
		Type:      rec.Type,
		Level:     rec.Level,
		PID:       rec.PID,
		UID:       rec.UID,
		GID:       rec.GID,
		Comm:      rec.Comm,
		Details:   rec.Details,
		Summary:   summary,
	}
	if err := s.jsonl.Append(ev); err != nil {
		return Event{}, err
	}
	if err := s.sql.InsertEvent(ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// AppendAlert stores an alert raised for related, inheriting its process and
// monotonic timestamp.
func (s *Store) AppendAlert(ts int64, a Alert, related Event) (Event, error) {
	if _, err := event.ParseLevel(a.Severity); err != nil {
		return Event{}, fmt.Errorf("alert %s: %w", a.RuleID, err)
	}
	if a.RelatedSeq == 0 {
		a.RelatedSeq = related.Seq
	}

	s.mu.Lock()
	seq := s.nextSeqLocked()
	s.alertCount++
	s.mu.Unlock()

	ev := Event{
		SessionID: s.sessionID,
		Seq:       seq,
		TS:        ts,
		MonoNS:    related.MonoNS,
		Type:      TypeAlert,
		PID:       related.PID,
		UID:       related.UID,
		GID:       related.GID,
		Comm:      related.Comm,
		Summary:   alertSummary(a),
		Alert:     &a,
	}
	if err := s.jsonl.Append(ev); err != nil {
		return Event{}, err
	}
	if err := s.sql.InsertAlert(ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Counts returns the number of events and alerts written so far.
func (s *Store) Counts() (events int64, alerts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventCount, s.alertCount
}

func NowUnixNanos() int64 { return time.Now().UTC().UnixNano() }
