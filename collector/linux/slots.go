//go:build linux

package linuxcollector

import (
	"fmt"

	"github.com/cilium/ebpf"

	"github.com/melonattacker/bmon/internal/tunables"
)

// MapSlots is the tunables array backed by the kernel config map. Writes are
// visible to the next hook invocation on any CPU.
type MapSlots struct {
	m *ebpf.Map
}

func NewMapSlots(m *ebpf.Map) *MapSlots { return &MapSlots{m: m} }

func (s *MapSlots) Get(idx int) (uint64, error) {
	if idx < 0 || idx >= tunables.NumSlots {
		return 0, fmt.Errorf("%w: %d", tunables.ErrBadSlot, idx)
	}
	var v uint64
	if err := s.m.Lookup(uint32(idx), &v); err != nil {
		return 0, fmt.Errorf("lookup slot %d: %w", idx, err)
	}
	return v, nil
}

func (s *MapSlots) Set(idx int, v uint64) error {
	if idx < 0 || idx >= tunables.NumSlots {
		return fmt.Errorf("%w: %d", tunables.ErrBadSlot, idx)
	}
	if err := s.m.Put(uint32(idx), v); err != nil {
		return fmt.Errorf("update slot %d: %w", idx, err)
	}
	return nil
}
