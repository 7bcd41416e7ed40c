package state

import "sync/atomic"

// ProcessBehavior holds the behavioral counters of one live process. Every
// field is updated with atomic operations so concurrent hooks for the same pid
// never lose increments. Counters only grow and the suspicious flag is never
// cleared; a fresh record is the only way back to zero.
type ProcessBehavior struct {
	PID uint32

	syscalls     atomic.Uint64
	fileAccesses atomic.Uint64
	netConns     atomic.Uint64
	lastActivity atomic.Uint64
	suspicious   atomic.Bool

	volumeAlerted atomic.Bool
	verdictGen    atomic.Uint64
}

// Latch names a one-shot signal that does not go through the suspicious
// flag: the activity-volume heuristic never marks a process suspicious.
type Latch int

const (
	LatchVolumeThreshold Latch = iota
)

func (p *ProcessBehavior) AddSyscalls(n uint64) uint64     { return p.syscalls.Add(n) }
func (p *ProcessBehavior) AddFileAccesses(n uint64) uint64 { return p.fileAccesses.Add(n) }
func (p *ProcessBehavior) AddNetConns(n uint64) uint64     { return p.netConns.Add(n) }

func (p *ProcessBehavior) SyscallCount() uint64           { return p.syscalls.Load() }
func (p *ProcessBehavior) FileAccessCount() uint64        { return p.fileAccesses.Load() }
func (p *ProcessBehavior) NetworkConnectionCount() uint64 { return p.netConns.Load() }
func (p *ProcessBehavior) LastActivity() uint64           { return p.lastActivity.Load() }

// Touch advances last_activity. A single compare-and-swap attempt keeps it
// bounded; losing the race means another context stored a value at least as
// recent.
func (p *ProcessBehavior) Touch(now uint64) {
	old := p.lastActivity.Load()
	if now > old {
		p.lastActivity.CompareAndSwap(old, now)
	}
}

func (p *ProcessBehavior) Suspicious() bool { return p.suspicious.Load() }

// MarkSuspicious reports whether this call performed the false→true flip.
func (p *ProcessBehavior) MarkSuspicious() bool {
	return p.suspicious.CompareAndSwap(false, true)
}

// Trip fires the given one-shot latch and reports whether this call was the
// one that fired it.
func (p *ProcessBehavior) Trip(l Latch) bool {
	switch l {
	case LatchVolumeThreshold:
		return p.volumeAlerted.CompareAndSwap(false, true)
	default:
		return false
	}
}

// ReportVerdict records gen as the verdict generation this process has
// reported and returns true only for the caller that moved it to a new value.
func (p *ProcessBehavior) ReportVerdict(gen uint64) bool {
	for {
		old := p.verdictGen.Load()
		if old == gen {
			return false
		}
		if p.verdictGen.CompareAndSwap(old, gen) {
			return true
		}
	}
}

type ProcessSnapshot struct {
	PID                    uint32 `json:"pid"`
	SyscallCount           uint64 `json:"syscall_count"`
	FileAccessCount        uint64 `json:"file_access_count"`
	NetworkConnectionCount uint64 `json:"network_connection_count"`
	LastActivity           uint64 `json:"last_activity"`
	Suspicious             bool   `json:"is_suspicious"`
}

func (p *ProcessBehavior) Snapshot() ProcessSnapshot {
	return ProcessSnapshot{
		PID:                    p.PID,
		SyscallCount:           p.syscalls.Load(),
		FileAccessCount:        p.fileAccesses.Load(),
		NetworkConnectionCount: p.netConns.Load(),
		LastActivity:           p.lastActivity.Load(),
		Suspicious:             p.suspicious.Load(),
	}
}
