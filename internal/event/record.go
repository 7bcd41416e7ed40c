package event

import (
	"fmt"
	"strings"
)

// Record is the JSON projection of a SecurityEvent used by storage, the
// control socket and downstream publishers.
type Record struct {
	Type      string `json:"type"`
	Level     string `json:"level"`
	PID       uint32 `json:"pid"`
	UID       uint32 `json:"uid"`
	GID       uint32 `json:"gid"`
	Timestamp uint64 `json:"mono_ns"`
	Comm      string `json:"comm"`
	Details   string `json:"details,omitempty"`
}

func (ev SecurityEvent) ToRecord() Record {
	return Record{
		Type:      ev.Type.String(),
		Level:     ev.Level.String(),
		PID:       ev.PID,
		UID:       ev.UID,
		GID:       ev.GID,
		Timestamp: ev.Timestamp,
		Comm:      strings.ToValidUTF8(ev.CommString(), "?"),
		Details:   strings.ToValidUTF8(ev.DetailsString(), "?"),
	}
}

func FromRecord(r Record) (SecurityEvent, error) {
	typ, err := ParseType(r.Type)
	if err != nil {
		return SecurityEvent{}, err
	}
	lvl, err := ParseLevel(r.Level)
	if err != nil {
		return SecurityEvent{}, err
	}
	task := Task{PID: r.PID, UID: r.UID, GID: r.GID, Comm: r.Comm}
	return New(typ, lvl, task, r.Timestamp, r.Details), nil
}

// LevelOf parses the record's level, treating unknown values as Low.
func (r Record) LevelOf() Level {
	l, err := ParseLevel(r.Level)
	if err != nil {
		return Low
	}
	return l
}

func (r Record) String() string {
	return fmt.Sprintf("[%s] %s pid=%d uid=%d comm=%s %s", r.Level, r.Type, r.PID, r.UID, r.Comm, r.Details)
}
