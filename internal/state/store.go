// Package state holds the bounded tables shared by every hook invocation.
//
// Tables never grow past their configured capacity. An insert into a full
// table fails silently: the caller skips its bookkeeping for that invocation
// rather than blocking or retrying, so monitoring can never stall the system
// it observes.
package state

import "sync/atomic"

const (
	ProcessCapacity = 1024
	FileCapacity    = 2048
	ConnCapacity    = 512
)

type Options struct {
	ProcessCapacity int
	FileCapacity    int
	ConnCapacity    int
}

type Store struct {
	procs *table[uint32, ProcessBehavior]
	files *table[FileKey, FileAccessRecord]
	conns *table[ConnKey, NetworkConnectionRecord]

	procInsertFailures atomic.Uint64
	fileDrops          atomic.Uint64
	connDrops          atomic.Uint64
}

func NewStore(opts Options) *Store {
	if opts.ProcessCapacity <= 0 {
		opts.ProcessCapacity = ProcessCapacity
	}
	if opts.FileCapacity <= 0 {
		opts.FileCapacity = FileCapacity
	}
	if opts.ConnCapacity <= 0 {
		opts.ConnCapacity = ConnCapacity
	}
	return &Store{
		procs: newTable[uint32, ProcessBehavior](opts.ProcessCapacity, hashPID),
		files: newTable[FileKey, FileAccessRecord](opts.FileCapacity, hashFile),
		conns: newTable[ConnKey, NetworkConnectionRecord](opts.ConnCapacity, hashConn),
	}
}

// Process looks up a live record. A miss means "not tracked", never an error.
func (s *Store) Process(pid uint32) (*ProcessBehavior, bool) {
	return s.procs.lookup(pid)
}

// GetOrCreate returns the record for pid, inserting a zeroed one stamped with
// now when absent. ok is false when the process table is full.
func (s *Store) GetOrCreate(pid uint32, now uint64) (p *ProcessBehavior, created, ok bool) {
	p, created, ok = s.procs.getOrInsert(pid, func() *ProcessBehavior {
		rec := &ProcessBehavior{PID: pid}
		rec.lastActivity.Store(now)
		return rec
	})
	if !ok {
		s.procInsertFailures.Add(1)
	}
	return p, created, ok
}

// Delete removes the record for pid. It is a no-op when absent.
func (s *Store) Delete(pid uint32) {
	s.procs.delete(pid)
}

// TouchFile refreshes the recency record for a file access. write selects the
// counter to bump. Full tables drop the update.
func (s *Store) TouchFile(key FileKey, path string, pid uint32, now uint64, write bool) {
	r, _, ok := s.files.getOrInsert(key, func() *FileAccessRecord {
		return &FileAccessRecord{Key: key, Path: path}
	})
	if !ok {
		s.fileDrops.Add(1)
		return
	}
	r.pid.Store(pid)
	r.lastAccess.Store(now)
	if write {
		r.writes.Add(1)
	} else {
		r.reads.Add(1)
	}
}

func (s *Store) File(key FileKey) (*FileAccessRecord, bool) {
	return s.files.lookup(key)
}

// TouchConn refreshes the recency record for an outbound connection and
// returns how many times this destination was seen, or 0 when dropped.
func (s *Store) TouchConn(key ConnKey, now uint64) uint64 {
	r, _, ok := s.conns.getOrInsert(key, func() *NetworkConnectionRecord {
		return &NetworkConnectionRecord{Key: key}
	})
	if !ok {
		s.connDrops.Add(1)
		return 0
	}
	r.lastConnect.Store(now)
	return r.count.Add(1)
}

func (s *Store) Conn(key ConnKey) (*NetworkConnectionRecord, bool) {
	return s.conns.lookup(key)
}

// Processes snapshots every live record. It takes each shard lock in turn and
// is meant for diagnostics, not hooks.
func (s *Store) Processes() []ProcessSnapshot {
	out := make([]ProcessSnapshot, 0, s.procs.len())
	s.procs.each(func(_ uint32, p *ProcessBehavior) {
		out = append(out, p.Snapshot())
	})
	return out
}

type Stats struct {
	Processes             int    `json:"processes"`
	ProcessCapacity       int    `json:"process_capacity"`
	Files                 int    `json:"files"`
	FileCapacity          int    `json:"file_capacity"`
	Conns                 int    `json:"conns"`
	ConnCapacity          int    `json:"conn_capacity"`
	ProcessInsertFailures uint64 `json:"process_insert_failures"`
	FileDrops             uint64 `json:"file_drops"`
	ConnDrops             uint64 `json:"conn_drops"`
}

func (s *Store) Stats() Stats {
	return Stats{
		Processes:             s.procs.len(),
		ProcessCapacity:       s.procs.cap(),
		Files:                 s.files.len(),
		FileCapacity:          s.files.cap(),
		Conns:                 s.conns.len(),
		ConnCapacity:          s.conns.cap(),
		ProcessInsertFailures: s.procInsertFailures.Load(),
		FileDrops:             s.fileDrops.Load(),
		ConnDrops:             s.connDrops.Load(),
	}
}
