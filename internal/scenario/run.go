package scenario

import (
	"context"
	"fmt"

	"github.com/melonattacker/bmon/internal/event"
	"github.com/melonattacker/bmon/internal/hooks"
	"github.com/melonattacker/bmon/internal/tunables"
)

type Result struct {
	Steps    int      `json:"steps"`
	Calls    int      `json:"calls"`
	Failures []string `json:"failures,omitempty"`
}

func (r Result) OK() bool { return len(r.Failures) == 0 }

// Run executes the steps in order against m. Expectation mismatches are
// collected in the result; only cancellation or a bad slot write is an
// error.
func Run(ctx context.Context, m *hooks.Monitor, slots tunables.Slots, s Script) (Result, error) {
	var res Result
	for i, st := range s.Steps {
		for n := 0; n < st.Repeat; n++ {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if err := apply(m, slots, st); err != nil {
				return res, fmt.Errorf("step %d (%s): %w", i+1, st.Op, err)
			}
			res.Calls++
		}
		res.Steps++
		if st.Expect != nil {
			for _, f := range check(m, st) {
				res.Failures = append(res.Failures, fmt.Sprintf("step %d (%s pid=%d): %s", i+1, st.Op, st.PID, f))
			}
		}
	}
	return res, nil
}

func apply(m *hooks.Monitor, slots tunables.Slots, st Step) error {
	task := event.Task{PID: st.PID, UID: st.UID, GID: st.GID, Comm: st.Comm}
	switch st.Op {
	case OpExec:
		m.ProcessExec(task, st.Path)
	case OpOpen:
		m.SyscallOpen(task, st.Path)
	case OpConnect:
		m.NetworkConnect(task, st.addr)
	case OpRead:
		m.FileRead(task, hooks.FileRef{Dev: st.Dev, Inode: st.Inode, Path: st.Path})
	case OpWrite:
		m.FileWrite(task, hooks.FileRef{Dev: st.Dev, Inode: st.Inode, Path: st.Path})
	case OpSched:
		m.SchedSwitch(task)
	case OpVerdict:
		m.VerdictCheck(task)
	case OpExit:
		m.ProcessExit(st.PID)
	case OpSetVerdict:
		return slots.Set(tunables.SlotVerdict, st.Value)
	case OpSetSlot:
		idx, err := tunables.SlotByName(st.Slot)
		if err != nil {
			return err
		}
		if err := tunables.CheckWritable(idx); err != nil {
			return err
		}
		return slots.Set(idx, st.Value)
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	return nil
}

func check(m *hooks.Monitor, st Step) []string {
	var out []string
	e := st.Expect
	p, tracked := m.Store().Process(st.PID)
	if e.Tracked != nil && *e.Tracked != tracked {
		out = append(out, fmt.Sprintf("tracked=%t, want %t", tracked, *e.Tracked))
	}
	if !tracked {
		if e.Tracked == nil && (e.Suspicious != nil || e.FileAccesses != nil || e.NetConns != nil) {
			out = append(out, "process not tracked")
		}
		return out
	}
	if e.Suspicious != nil && p.Suspicious() != *e.Suspicious {
		out = append(out, fmt.Sprintf("suspicious=%t, want %t", p.Suspicious(), *e.Suspicious))
	}
	if e.FileAccesses != nil && p.FileAccessCount() != *e.FileAccesses {
		out = append(out, fmt.Sprintf("file_accesses=%d, want %d", p.FileAccessCount(), *e.FileAccesses))
	}
	if e.NetConns != nil && p.NetworkConnectionCount() != *e.NetConns {
		out = append(out, fmt.Sprintf("net_conns=%d, want %d", p.NetworkConnectionCount(), *e.NetConns))
	}
	return out
}
