package event

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// RecordSize is the size of one serialized event. The layout mirrors
// struct security_event in collector/linux/bpf/monitor.bpf.c:
//
//	u32 type | u32 level | u32 pid | u32 uid | u32 gid | u32 pad | u64 ts | comm[16] | details[128]
const RecordSize = 6*4 + 8 + CommLen + DetailsLen

const (
	offType    = 0
	offLevel   = 4
	offPID     = 8
	offUID     = 12
	offGID     = 16
	offTS      = 24
	offComm    = 32
	offDetails = offComm + CommLen
)

var ErrShortRecord = errors.New("short security event record")

// PutBinary writes ev into b, which must hold at least RecordSize bytes.
func (ev SecurityEvent) PutBinary(b []byte) {
	_ = b[RecordSize-1]
	le := binary.LittleEndian
	le.PutUint32(b[offType:], uint32(ev.Type))
	le.PutUint32(b[offLevel:], uint32(ev.Level))
	le.PutUint32(b[offPID:], ev.PID)
	le.PutUint32(b[offUID:], ev.UID)
	le.PutUint32(b[offGID:], ev.GID)
	le.PutUint32(b[offGID+4:], 0)
	le.PutUint64(b[offTS:], ev.Timestamp)
	copy(b[offComm:offComm+CommLen], ev.Comm[:])
	copy(b[offDetails:offDetails+DetailsLen], ev.Details[:])
}

func (ev SecurityEvent) AppendBinary(b []byte) []byte {
	n := len(b)
	b = append(b, make([]byte, RecordSize)...)
	ev.PutBinary(b[n:])
	return b
}

func (ev SecurityEvent) MarshalBinary() ([]byte, error) {
	return ev.AppendBinary(make([]byte, 0, RecordSize)), nil
}

// UnmarshalBinary decodes one record. Trailing bytes beyond RecordSize are
// ignored so that ring buffer samples padded to 8 bytes decode cleanly.
func (ev *SecurityEvent) UnmarshalBinary(b []byte) error {
	if len(b) < RecordSize {
		return fmt.Errorf("%w: %d bytes, want %d", ErrShortRecord, len(b), RecordSize)
	}
	le := binary.LittleEndian
	ev.Type = Type(le.Uint32(b[offType:]))
	ev.Level = Level(le.Uint32(b[offLevel:]))
	ev.PID = le.Uint32(b[offPID:])
	ev.UID = le.Uint32(b[offUID:])
	ev.GID = le.Uint32(b[offGID:])
	ev.Timestamp = le.Uint64(b[offTS:])
	copy(ev.Comm[:], b[offComm:offComm+CommLen])
	copy(ev.Details[:], b[offDetails:offDetails+DetailsLen])
	return nil
}
