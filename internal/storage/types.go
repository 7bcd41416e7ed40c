package storage

import "github.com/melonattacker/bmon/internal/event"

// TypeAlert marks alert entries in the JSONL log; every other type is an
// event type name.
const TypeAlert = "alert"

// Event is one line of events.jsonl: either a security event or an alert
// raised for one.
type Event struct {
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
	TS        int64  `json:"ts"` // unix nanos, receive time
	MonoNS    uint64 `json:"mono_ns"`
	Type      string `json:"type"`
	Level     string `json:"level,omitempty"`
	PID       uint32 `json:"pid,omitempty"`
	UID       uint32 `json:"uid,omitempty"`
	GID       uint32 `json:"gid,omitempty"`
	Comm      string `json:"comm,omitempty"`
	Details   string `json:"details,omitempty"`
	Summary   string `json:"summary"`
	Alert     *Alert `json:"alert,omitempty"`
}

type Alert struct {
	RuleID     string `json:"rule_id"`
	Title      string `json:"title,omitempty"`
	Severity   string `json:"severity"` // low|medium|high|critical
	Message    string `json:"message"`
	RelatedSeq int64  `json:"related_seq,omitempty"`
}

// Record converts a stored security event back to its JSON projection.
func (e Event) Record() event.Record {
	return event.Record{
		Type:      e.Type,
		Level:     e.Level,
		PID:       e.PID,
		UID:       e.UID,
		GID:       e.GID,
		Timestamp: e.MonoNS,
		Comm:      e.Comm,
		Details:   e.Details,
	}
}

func levelRank(s string) int {
	l, err := event.ParseLevel(s)
	if err != nil {
		return -1
	}
	return int(l)
}
