package hooks

// ProcessExit is the lifecycle reaper. It deletes the process record
// unconditionally, suspicious or not, so behavioral history ends at exit:
// consumers that need it must have read the emitted events by then, because
// the state store cannot be queried for an exited process. A later process
// reusing the pid starts from a zeroed record. pid is a thread group id and
// the hook fires once the last thread of the group is gone, whichever thread
// that is; a leader that exits before its other threads does not end the
// record.
func (m *Monitor) ProcessExit(pid uint32) {
	m.store.Delete(pid)
}
