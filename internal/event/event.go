// Package event defines the security event emitted by the hook set and its
// fixed-size wire layout shared with the BPF programs.
package event

import (
	"errors"
	"fmt"
	"strings"
)

const (
	CommLen    = 16
	DetailsLen = 128
)

type Type uint32

const (
	SyscallAnomaly Type = iota + 1
	NetworkAnomaly
	FileAccessDenied
	ProcessCreated
	PrivilegeEscalation
)

var typeNames = map[Type]string{
	SyscallAnomaly:      "syscall_anomaly",
	NetworkAnomaly:      "network_anomaly",
	FileAccessDenied:    "file_access_denied",
	ProcessCreated:      "process_created",
	PrivilegeEscalation: "privilege_escalation",
}

// Types lists every known event type in wire-code order.
func Types() []Type {
	return []Type{SyscallAnomaly, NetworkAnomaly, FileAccessDenied, ProcessCreated, PrivilegeEscalation}
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", uint32(t))
}

func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// Level is an ordered threat classification.
type Level uint32

const (
	Low Level = iota
	Medium
	High
	Critical
)

var levelNames = [...]string{"low", "medium", "high", "critical"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("level(%d)", uint32(l))
}

func (l Level) Valid() bool { return l <= Critical }

func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range levelNames {
		if name == s {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("unknown threat level %q", s)
}

var ErrInvalid = errors.New("invalid security event")

// Task identifies the execution context an event is attributed to.
type Task struct {
	PID  uint32
	UID  uint32
	GID  uint32
	Comm string
}

// SecurityEvent is immutable once built by New. Comm and Details are bounded
// byte buffers that are not guaranteed to be NUL-terminated.
type SecurityEvent struct {
	Type      Type
	Level     Level
	PID       uint32
	UID       uint32
	GID       uint32
	Timestamp uint64
	Comm      [CommLen]byte
	Details   [DetailsLen]byte
}

func New(typ Type, lvl Level, task Task, ts uint64, details string) SecurityEvent {
	ev := SecurityEvent{
		Type:      typ,
		Level:     lvl,
		PID:       task.PID,
		UID:       task.UID,
		GID:       task.GID,
		Timestamp: ts,
	}
	copy(ev.Comm[:], task.Comm)
	copy(ev.Details[:], details)
	return ev
}

func (ev SecurityEvent) CommString() string    { return cString(ev.Comm[:]) }
func (ev SecurityEvent) DetailsString() string { return cString(ev.Details[:]) }

func (ev SecurityEvent) Validate() error {
	if !ev.Type.Valid() {
		return fmt.Errorf("%w: type %d", ErrInvalid, uint32(ev.Type))
	}
	if !ev.Level.Valid() {
		return fmt.Errorf("%w: level %d", ErrInvalid, uint32(ev.Level))
	}
	return nil
}

func cString(b []byte) string {
	for i := range b {
		if b[i] == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
