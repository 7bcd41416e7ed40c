// Package tunables is the small fixed-size slot array read by the hook set.
//
// Slot 0 is the external verdict: a level-triggered flag written by an
// out-of-process decision system. Readers may observe a stale value; that is
// acceptable. Any non-zero value sets it, and writing a different non-zero
// value is a new verdict generation that every process reports again.
// Slots 1-3 hold detection thresholds and fall back to their defaults while
// unset (zero). Slot 4 holds the monitor's own tgid, which the hooks ignore.
package tunables

import (
	"errors"
	"fmt"
	"sync/atomic"
)

const NumSlots = 8

const (
	SlotVerdict = iota
	SlotFileAccessThreshold
	SlotNetConnThreshold
	SlotSyscallVolumeThreshold
	SlotSelfTGID
)

const (
	DefaultFileAccessThreshold    = 100
	DefaultNetConnThreshold       = 50
	DefaultSyscallVolumeThreshold = 10000
)

var (
	ErrBadSlot  = errors.New("slot index out of range")
	ErrReadOnly = errors.New("slot is read-only")
)

var slotNames = map[int]string{
	SlotVerdict:                "verdict",
	SlotFileAccessThreshold:    "file_access_threshold",
	SlotNetConnThreshold:       "net_conn_threshold",
	SlotSyscallVolumeThreshold: "syscall_volume_threshold",
	SlotSelfTGID:               "self_tgid",
}

func SlotName(idx int) string {
	if s, ok := slotNames[idx]; ok {
		return s
	}
	return fmt.Sprintf("slot%d", idx)
}

// SlotByName accepts either a slot name or its numeric index.
func SlotByName(s string) (int, error) {
	for idx, name := range slotNames {
		if name == s {
			return idx, nil
		}
	}
	var idx int
	if _, err := fmt.Sscanf(s, "%d", &idx); err != nil {
		return 0, fmt.Errorf("unknown slot %q", s)
	}
	if err := checkIndex(idx); err != nil {
		return 0, err
	}
	return idx, nil
}

func Default(idx int) uint64 {
	switch idx {
	case SlotFileAccessThreshold:
		return DefaultFileAccessThreshold
	case SlotNetConnThreshold:
		return DefaultNetConnThreshold
	case SlotSyscallVolumeThreshold:
		return DefaultSyscallVolumeThreshold
	default:
		return 0
	}
}

// CheckWritable rejects client writes to slots the monitor owns.
func CheckWritable(idx int) error {
	if err := checkIndex(idx); err != nil {
		return err
	}
	if idx == SlotSelfTGID {
		return fmt.Errorf("%w: %s", ErrReadOnly, SlotName(idx))
	}
	return nil
}

// Slots is implemented by the in-memory Table and by the kernel backend's
// BPF array map.
type Slots interface {
	Get(idx int) (uint64, error)
	Set(idx int, v uint64) error
}

// Threshold reads a threshold slot, returning its default when unset or
// unreadable.
func Threshold(s Slots, idx int) uint64 {
	v, err := s.Get(idx)
	if err != nil || v == 0 {
		return Default(idx)
	}
	return v
}

func VerdictSet(s Slots) bool {
	return Verdict(s) != 0
}

// Verdict returns the current verdict generation, zero when clear or
// unreadable.
func Verdict(s Slots) uint64 {
	v, err := s.Get(SlotVerdict)
	if err != nil {
		return 0
	}
	return v
}

// IsSelf reports whether tgid is the monitor's own process.
func IsSelf(s Slots, tgid uint32) bool {
	v, err := s.Get(SlotSelfTGID)
	return err == nil && v != 0 && v == uint64(tgid)
}

// Snapshot reads every slot. Unreadable slots are reported as zero.
func Snapshot(s Slots) [NumSlots]uint64 {
	var out [NumSlots]uint64
	for i := range out {
		v, _ := s.Get(i)
		out[i] = v
	}
	return out
}

type Table struct {
	v [NumSlots]atomic.Uint64
}

func NewTable() *Table { return &Table{} }

func (t *Table) Get(idx int) (uint64, error) {
	if err := checkIndex(idx); err != nil {
		return 0, err
	}
	return t.v[idx].Load(), nil
}

func (t *Table) Set(idx int, v uint64) error {
	if err := checkIndex(idx); err != nil {
		return err
	}
	t.v[idx].Store(v)
	return nil
}

func checkIndex(idx int) error {
	if idx < 0 || idx >= NumSlots {
		return fmt.Errorf("%w: %d", ErrBadSlot, idx)
	}
	return nil
}
