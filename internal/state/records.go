package state

import (
	"net/netip"
	"sync/atomic"
)

// FileKey identifies a file by device and inode.
type FileKey struct {
	Dev   uint64
	Inode uint64
}

func hashFile(k FileKey) uint64 { return mix64(k.Dev*31 + k.Inode) }

// FileAccessRecord is a best-effort recency record used to enrich event
// details. It may be dropped at any time.
type FileAccessRecord struct {
	Key  FileKey
	Path string

	pid        atomic.Uint32
	lastAccess atomic.Uint64
	reads      atomic.Uint64
	writes     atomic.Uint64
}

func (r *FileAccessRecord) LastPID() uint32    { return r.pid.Load() }
func (r *FileAccessRecord) LastAccess() uint64 { return r.lastAccess.Load() }
func (r *FileAccessRecord) Reads() uint64      { return r.reads.Load() }
func (r *FileAccessRecord) Writes() uint64     { return r.writes.Load() }

// ConnKey identifies an outbound connection attempt by owner and destination.
type ConnKey struct {
	PID  uint32
	Addr netip.AddrPort
}

func hashConn(k ConnKey) uint64 {
	a := k.Addr.Addr().As16()
	h := uint64(k.PID)<<16 | uint64(k.Addr.Port())
	for i := 0; i < len(a); i += 8 {
		var w uint64
		for j := 0; j < 8; j++ {
			w = w<<8 | uint64(a[i+j])
		}
		h = mix64(h ^ w)
	}
	return h
}

type NetworkConnectionRecord struct {
	Key ConnKey

	lastConnect atomic.Uint64
	count       atomic.Uint64
}

func (r *NetworkConnectionRecord) LastConnect() uint64 { return r.lastConnect.Load() }
func (r *NetworkConnectionRecord) Count() uint64       { return r.count.Load() }
