package common

import (
	"context"
	"errors"
	"time"

	"github.com/melonattacker/bmon/internal/transport"
	"github.com/melonattacker/bmon/internal/tunables"
)

const (
	BackendKernel   = "kernel"
	BackendEmulated = "emulated"
)

var (
	ErrLinuxOnly      = errors.New("kernel backend is only supported on linux")
	ErrUnknownBackend = errors.New("unknown backend")
)

type Config struct {
	Backend string

	// BPFObject overrides the compiled kernel object location.
	BPFObject string

	// Thresholds written into the tunables at Init. Zero keeps the
	// built-in default.
	FileAccessThreshold    uint64
	NetConnThreshold       uint64
	SyscallVolumeThreshold uint64
	RingCapacity           int
	ProcessCapacity        int
	FileCapacity           int
	ConnCapacity           int

	// Maintenance sweep of the emulated tables. Zero keeps the sweeper
	// defaults.
	SweepInterval  time.Duration
	ProcessIdleTTL time.Duration
}

// Thresholds returns the configured threshold slot values keyed by slot index.
func (c Config) Thresholds() map[int]uint64 {
	out := make(map[int]uint64, 3)
	if c.FileAccessThreshold > 0 {
		out[tunables.SlotFileAccessThreshold] = c.FileAccessThreshold
	}
	if c.NetConnThreshold > 0 {
		out[tunables.SlotNetConnThreshold] = c.NetConnThreshold
	}
	if c.SyscallVolumeThreshold > 0 {
		out[tunables.SlotSyscallVolumeThreshold] = c.SyscallVolumeThreshold
	}
	return out
}

type Stats struct {
	Backend         string `json:"backend"`
	Emitted         uint64 `json:"emitted"`
	Dropped         uint64 `json:"dropped"`
	StateMisses     uint64 `json:"state_misses"`
	TrackedProcs    int    `json:"tracked_processes"`
	ProcessCapacity int    `json:"process_capacity"`
}

// Backend hosts a hook set and exposes its event stream and tunables.
type Backend interface {
	Name() string
	Init(ctx context.Context) error
	Start(ctx context.Context) (transport.Source, error)
	Slots() tunables.Slots
	Stats() Stats
	Stop(ctx context.Context) error
}

// ApplyThresholds writes the configured thresholds into slots.
func ApplyThresholds(slots tunables.Slots, cfg Config) error {
	for idx, v := range cfg.Thresholds() {
		if err := slots.Set(idx, v); err != nil {
			return err
		}
	}
	return nil
}
