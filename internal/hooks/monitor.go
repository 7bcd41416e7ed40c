// Package hooks is the instrumentation hook set: narrow callbacks bound to
// process execution, file opens, connects, reads, writes, scheduler switches
// and process exit.
//
// No hook returns an error or blocks. Lookup misses, full tables and a full
// transport only suppress bookkeeping or emission for that invocation, and
// every hook does a constant amount of work regardless of table size.
package hooks

import (
	"sync/atomic"

	"github.com/melonattacker/bmon/internal/clock"
	"github.com/melonattacker/bmon/internal/event"
	"github.com/melonattacker/bmon/internal/state"
	"github.com/melonattacker/bmon/internal/tunables"
)

// Emitter accepts events without blocking. Any error means the event was
// dropped.
type Emitter interface {
	Emit(ev event.SecurityEvent) error
}

type Monitor struct {
	store *state.Store
	slots tunables.Slots
	out   Emitter
	now   clock.Func

	emitted     atomic.Uint64
	dropped     atomic.Uint64
	stateMisses atomic.Uint64
}

type Option func(*Monitor)

// WithClock overrides the monotonic clock, mainly for tests.
func WithClock(fn clock.Func) Option {
	return func(m *Monitor) { m.now = fn }
}

// WithSelfPID records the monitor's own tgid in the self slot. The stateful
// hooks then ignore that process, so the monitor's own writes and connects
// never feed back into its event stream.
func WithSelfPID(pid uint32) Option {
	return func(m *Monitor) { _ = m.slots.Set(tunables.SlotSelfTGID, uint64(pid)) }
}

func NewMonitor(store *state.Store, slots tunables.Slots, out Emitter, opts ...Option) *Monitor {
	m := &Monitor{
		store: store,
		slots: slots,
		out:   out,
		now:   clock.Monotonic,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) Store() *state.Store { return m.store }

func (m *Monitor) Slots() tunables.Slots { return m.slots }

type Stats struct {
	Emitted     uint64 `json:"emitted"`
	Dropped     uint64 `json:"dropped"`
	StateMisses uint64 `json:"state_misses"`
}

func (m *Monitor) Stats() Stats {
	return Stats{
		Emitted:     m.emitted.Load(),
		Dropped:     m.dropped.Load(),
		StateMisses: m.stateMisses.Load(),
	}
}

func (m *Monitor) emit(typ event.Type, lvl event.Level, task event.Task, details string) {
	ev := event.New(typ, lvl, task, m.now(), details)
	if err := m.out.Emit(ev); err != nil {
		m.dropped.Add(1)
		return
	}
	m.emitted.Add(1)
}

func (m *Monitor) isSelf(pid uint32) bool {
	return tunables.IsSelf(m.slots, pid)
}

func (m *Monitor) threshold(idx int) uint64 {
	return tunables.Threshold(m.slots, idx)
}
