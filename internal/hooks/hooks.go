package hooks

import (
	"fmt"
	"net/netip"

	"github.com/melonattacker/bmon/internal/event"
	"github.com/melonattacker/bmon/internal/state"
	"github.com/melonattacker/bmon/internal/tunables"
)

// FileRef identifies the file behind a read or write.
type FileRef struct {
	Dev   uint64
	Inode uint64
	Path  string
}

func (f FileRef) describe() string {
	if f.Path != "" {
		return f.Path
	}
	return fmt.Sprintf("dev=%d ino=%d", f.Dev, f.Inode)
}

// RootExecPrefix leads the details of a privilege escalation event; the
// executed filename follows it.
const RootExecPrefix = "exec as root: "

// ProcessExec fires on every new program image. It is a cheap audit trail
// and does not touch process state.
func (m *Monitor) ProcessExec(task event.Task, filename string) {
	m.emit(event.ProcessCreated, event.Low, task, filename)
	if task.UID == 0 {
		m.emit(event.PrivilegeEscalation, event.High, task, RootExecPrefix+filename)
	}
}

// SyscallOpen is the file-open variant of the system-call entry hook.
func (m *Monitor) SyscallOpen(task event.Task, path string) {
	if m.isSelf(task.PID) {
		return
	}
	now := m.now()
	m.consultVerdict(task, now)

	p, _, ok := m.store.GetOrCreate(task.PID, now)
	if !ok {
		m.stateMisses.Add(1)
		return
	}
	if p.Suspicious() {
		m.emit(event.FileAccessDenied, event.High, task, "open "+path)
	}

	p.AddSyscalls(1)
	n := p.AddFileAccesses(1)
	p.Touch(now)

	if n >= m.threshold(tunables.SlotFileAccessThreshold) && p.MarkSuspicious() {
		m.emit(event.SyscallAnomaly, event.Medium, task,
			fmt.Sprintf("file access threshold crossed: %d opens, last %s", n, path))
	}
}

// NetworkConnect counts outbound connects for an already tracked process.
func (m *Monitor) NetworkConnect(task event.Task, addr netip.AddrPort) {
	if m.isSelf(task.PID) {
		return
	}
	now := m.now()
	m.consultVerdict(task, now)

	p, ok := m.store.Process(task.PID)
	if !ok {
		m.stateMisses.Add(1)
		return
	}
	n := p.AddNetConns(1)
	p.Touch(now)
	seen := m.store.TouchConn(state.ConnKey{PID: task.PID, Addr: addr}, now)

	if n >= m.threshold(tunables.SlotNetConnThreshold) && p.MarkSuspicious() {
		m.emit(event.NetworkAnomaly, event.Medium, task,
			fmt.Sprintf("connect threshold crossed: %d connects, last %s (x%d)", n, addr, seen))
	}
}

// FileRead reports reads by suspicious processes. It observes only: the read
// itself is never blocked here.
func (m *Monitor) FileRead(task event.Task, f FileRef) { m.fileIO(task, f, false) }

// FileWrite is the write counterpart of FileRead.
func (m *Monitor) FileWrite(task event.Task, f FileRef) { m.fileIO(task, f, true) }

func (m *Monitor) fileIO(task event.Task, f FileRef, write bool) {
	if m.isSelf(task.PID) {
		return
	}
	now := m.now()
	m.consultVerdict(task, now)

	p, ok := m.store.Process(task.PID)
	if !ok {
		return
	}
	if p.Suspicious() {
		op := "read "
		if write {
			op = "write "
		}
		m.emit(event.FileAccessDenied, event.High, task, op+f.describe())
	}
	p.Touch(now)
	m.store.TouchFile(state.FileKey{Dev: f.Dev, Inode: f.Inode}, f.Path, task.PID, now, write)
}

// SchedSwitch is the generic per-switch activity hook. Besides refreshing
// last_activity it counts every switch as activity, and crossing the volume
// threshold reports a runaway process. That report is a performance signal:
// it is tagged "perf:" and does not mark the process suspicious.
func (m *Monitor) SchedSwitch(task event.Task) {
	if m.isSelf(task.PID) {
		return
	}
	now := m.now()
	m.consultVerdict(task, now)

	p, ok := m.store.Process(task.PID)
	if !ok {
		return
	}
	n := p.AddSyscalls(1)
	p.Touch(now)

	if n >= m.threshold(tunables.SlotSyscallVolumeThreshold) && p.Trip(state.LatchVolumeThreshold) {
		m.emit(event.SyscallAnomaly, event.Medium, task,
			fmt.Sprintf("perf: runaway activity, %d events", n))
	}
}

// VerdictCheck is the dedicated hook point for the external verdict. The
// other process hooks consult the verdict the same way on entry.
func (m *Monitor) VerdictCheck(task event.Task) {
	m.consultVerdict(task, m.now())
}

// consultVerdict applies the level-triggered verdict slot to the current
// process. It makes no assumption about who set the slot or when. Each process
// reports a given verdict value once; a different non-zero value is reported
// again.
func (m *Monitor) consultVerdict(task event.Task, now uint64) {
	if m.isSelf(task.PID) {
		return
	}
	gen := tunables.Verdict(m.slots)
	if gen == 0 {
		return
	}
	p, _, ok := m.store.GetOrCreate(task.PID, now)
	if !ok {
		m.stateMisses.Add(1)
		return
	}
	p.Touch(now)
	p.MarkSuspicious()
	if p.ReportVerdict(gen) {
		m.emit(event.SyscallAnomaly, event.High, task, "external verdict: flagged")
	}
}
