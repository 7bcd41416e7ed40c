package ipc

// Peer identifies the process connected to the control socket.
type Peer struct {
	PID int32
	UID uint32
	GID uint32
}

// MayControl reports whether the peer may change slots or read the event
// stream: root, or the uid the daemon runs as.
func (p Peer) MayControl(daemonUID uint32) bool {
	return p.UID == 0 || p.UID == daemonUID
}
