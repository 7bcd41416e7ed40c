package scenario

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melonattacker/bmon/internal/event"
	"github.com/melonattacker/bmon/internal/hooks"
	"github.com/melonattacker/bmon/internal/state"
	"github.com/melonattacker/bmon/internal/transport"
	"github.com/melonattacker/bmon/internal/tunables"
)

type harness struct {
	monitor *hooks.Monitor
	slots   *tunables.Table
	ring    *transport.Ring
}

func newHarness() harness {
	slots := tunables.NewTable()
	ring := transport.NewRing(1024)
	m := hooks.NewMonitor(state.NewStore(state.Options{}), slots, ring)
	return harness{monitor: m, slots: slots, ring: ring}
}

func (h harness) drain(t *testing.T) []event.SecurityEvent {
	t.Helper()
	require.NoError(t, h.ring.Close())
	var out []event.SecurityEvent
	for {
		ev, err := h.ring.Read(context.Background())
		if err != nil {
			require.ErrorIs(t, err, transport.ErrClosed)
			return out
		}
		out = append(out, ev)
	}
}

func count(evs []event.SecurityEvent, typ event.Type, lvl event.Level) int {
	n := 0
	for _, ev := range evs {
		if ev.Type == typ && ev.Level == lvl {
			n++
		}
	}
	return n
}

func TestDefaultScenarioWalkThrough(t *testing.T) {
	s, err := Default()
	require.NoError(t, err)
	h := newHarness()

	res, err := Run(context.Background(), h.monitor, h.slots, s)
	require.NoError(t, err)
	assert.True(t, res.OK(), "failures: %v", res.Failures)
	assert.Equal(t, 6, res.Steps)
	assert.Equal(t, 1+99+1+1+1+1, res.Calls)

	evs := h.drain(t)
	assert.Equal(t, 1, count(evs, event.ProcessCreated, event.Low))
	assert.Equal(t, 1, count(evs, event.SyscallAnomaly, event.Medium))
	assert.Equal(t, 1, count(evs, event.FileAccessDenied, event.High))
	assert.Len(t, evs, 3)
}

func TestBuiltinScenariosPass(t *testing.T) {
	names, err := Builtin()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"beacon", "file_threshold", "verdict"}, names)

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			s, err := Load(name)
			require.NoError(t, err)
			h := newHarness()
			res, err := Run(context.Background(), h.monitor, h.slots, s)
			require.NoError(t, err)
			assert.True(t, res.OK(), "failures: %v", res.Failures)
		})
	}
}

func TestVerdictScenarioEmitsHighAnomaly(t *testing.T) {
	s, err := Load("verdict")
	require.NoError(t, err)
	h := newHarness()
	_, err = Run(context.Background(), h.monitor, h.slots, s)
	require.NoError(t, err)

	evs := h.drain(t)
	assert.Equal(t, 1, count(evs, event.SyscallAnomaly, event.High))
	v, err := h.slots.Get(tunables.SlotVerdict)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestExpectationFailuresAreReported(t *testing.T) {
	s, err := Parse([]byte(`
name: wrong
steps:
  - op: open
    pid: 7
    path: /etc/hosts
    expect: {suspicious: true, file_accesses: 2}
  - op: exit
    pid: 7
    expect: {tracked: true}
`))
	require.NoError(t, err)
	h := newHarness()
	res, err := Run(context.Background(), h.monitor, h.slots, s)
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Len(t, res.Failures, 3)
}

func TestParseRejectsBadSteps(t *testing.T) {
	cases := map[string]string{
		"no steps":   "name: x\nsteps: []\n",
		"bad op":     "steps:\n  - {op: fork, pid: 1}\n",
		"no pid":     "steps:\n  - {op: open, path: /x}\n",
		"no path":    "steps:\n  - {op: exec, pid: 1}\n",
		"bad addr":   "steps:\n  - {op: connect, pid: 1, addr: nowhere}\n",
		"no slot":    "steps:\n  - {op: set_slot, value: 3}\n",
		"neg repeat": "steps:\n  - {op: sched, pid: 1, repeat: -1}\n",
	}
	for name, y := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(y))
			assert.Error(t, err)
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := Default()
	require.NoError(t, err)
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, h.monitor, h.slots, s)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSetSlotByName(t *testing.T) {
	s, err := Parse([]byte("steps:\n  - {op: set_slot, slot: file_access_threshold, value: 3}\n"))
	require.NoError(t, err)
	h := newHarness()
	_, err = Run(context.Background(), h.monitor, h.slots, s)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), tunables.Threshold(h.slots, tunables.SlotFileAccessThreshold))
}
