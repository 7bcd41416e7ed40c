package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/melonattacker/bmon/internal/event"
	"github.com/melonattacker/bmon/internal/sessions"
	"github.com/melonattacker/bmon/internal/storage"
)

// session is a recorded session opened for reading. Queries go to the
// SQLite index when it opens and to the JSONL log otherwise.
type session struct {
	ID   string
	Dir  string
	Meta sessions.Meta

	db  *storage.SQLite
	all []storage.Event
}

func openSession(dataDir, sel string) (*session, error) {
	if strings.TrimSpace(dataDir) == "" {
		d, err := sessions.DataDir()
		if err != nil {
			return nil, err
		}
		dataDir = d
	}
	id, dir, err := sessions.Resolve(dataDir, sel)
	if err != nil {
		return nil, err
	}
	s := &session{ID: id, Dir: dir}
	s.Meta, _ = sessions.ReadMeta(dir)

	db, err := storage.OpenSQLiteReadOnly(filepath.Join(dir, storage.IndexFile))
	if err == nil {
		s.db = db
		return s, nil
	}
	all, rerr := storage.ReadJSONL(filepath.Join(dir, storage.EventsFile))
	if rerr != nil {
		return nil, fmt.Errorf("open sqlite: %v; read %s: %w", err, storage.EventsFile, rerr)
	}
	s.all = all
	return s, nil
}

func (s *session) Indexed() bool { return s.db != nil }

func (s *session) Query(opts storage.QueryOptions) ([]storage.Event, error) {
	opts.SessionID = s.ID
	if s.db != nil {
		return s.db.Query(opts)
	}
	return storage.Filter(s.all, opts), nil
}

func (s *session) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// parseLevelFlag accepts a level name; empty means every level.
func parseLevelFlag(name, v string) (event.Level, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return event.Low, nil
	}
	l, err := event.ParseLevel(v)
	if err != nil {
		return 0, fmt.Errorf("invalid -%s %q (expected low|medium|high|critical)", name, v)
	}
	return l, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
