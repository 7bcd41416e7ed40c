package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const metaFile = "meta.json"

// Meta describes one daemon or simulation session.
type Meta struct {
	SessionID  string            `json:"session_id"`
	UUID       string            `json:"uuid"`
	StartTS    int64             `json:"start_ts"`
	EndTS      int64             `json:"end_ts,omitempty"`
	Backend    string            `json:"backend"`
	Hostname   string            `json:"hostname,omitempty"`
	Kernel     string            `json:"kernel,omitempty"`
	Scenario   string            `json:"scenario,omitempty"`
	Thresholds map[string]uint64 `json:"thresholds,omitempty"`
	EventCount int64             `json:"event_count"`
	AlertCount int               `json:"alert_count"`
	Version    int               `json:"version"`
}

// WriteMeta replaces dir/meta.json atomically.
func WriteMeta(dir string, m Meta) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, metaFile+".*")
	if err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	_, werr := f.Write(append(b, '\n'))
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(f.Name(), filepath.Join(dir, metaFile))
	}
	if werr != nil {
		_ = os.Remove(f.Name())
		return fmt.Errorf("write meta: %w", werr)
	}
	return nil
}

func ReadMeta(dir string) (Meta, error) {
	var m Meta
	b, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("parse %s: %w", metaFile, err)
	}
	return m, nil
}
