//go:build linux

package linuxcollector

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"os"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"go.uber.org/zap"

	collector "github.com/melonattacker/bmon/collector/common"
	"github.com/melonattacker/bmon/internal/event"
	"github.com/melonattacker/bmon/internal/transport"
	"github.com/melonattacker/bmon/internal/tunables"
)

// Indexes into the kernel stats array.
const (
	statEmitted = iota
	statRingbufDrops
	statProcInsertFail
)

var attachPoints = []struct {
	group string
	name  string
	prog  string
}{
	{"sched", "sched_process_exec", "handle_exec"},
	{"sched", "sched_process_exit", "handle_exit"},
	{"sched", "sched_switch", "handle_sched_switch"},
	{"syscalls", "sys_enter_openat", "handle_openat"},
	{"syscalls", "sys_enter_connect", "handle_connect"},
	{"syscalls", "sys_enter_read", "handle_read"},
	{"syscalls", "sys_enter_write", "handle_write"},
}

type KernelBackend struct {
	cfg    collector.Config
	logger *zap.Logger

	mu      sync.Mutex
	coll    *ebpf.Collection
	slots   *MapSlots
	links   []link.Link
	source  *ringbufSource
	started bool
}

func NewBackend(cfg collector.Config, logger *zap.Logger) *KernelBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KernelBackend{cfg: cfg, logger: logger.Named("kernel")}
}

func (kb *KernelBackend) Name() string { return collector.BackendKernel }

// Init loads the object sized to the configured capacities, then writes the
// thresholds and the daemon's own tgid. Programs are not attached until Start.
func (kb *KernelBackend) Init(ctx context.Context) error {
	_ = ctx
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if kb.coll != nil {
		return nil
	}

	// eBPF map creation is constrained by RLIMIT_MEMLOCK on many systems.
	if err := rlimit.RemoveMemlock(); err != nil {
		return fmt.Errorf("remove memlock rlimit (try sudo): %w", err)
	}

	objPath, err := resolveObject(kb.cfg.BPFObject)
	if err != nil {
		return err
	}
	spec, err := ebpf.LoadCollectionSpec(objPath)
	if err != nil {
		return fmt.Errorf("load bpf object %s: %w", objPath, err)
	}
	if err := applyCapacities(spec, kb.cfg, os.Getpagesize()); err != nil {
		return err
	}
	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return fmt.Errorf("new bpf collection: %w", err)
	}

	cfgMap, ok := coll.Maps["config"]
	if !ok {
		coll.Close()
		return errors.New("config map not found")
	}
	slots := NewMapSlots(cfgMap)
	if err := collector.ApplyThresholds(slots, kb.cfg); err != nil {
		coll.Close()
		return fmt.Errorf("write thresholds: %w", err)
	}
	if err := slots.Set(tunables.SlotSelfTGID, uint64(os.Getpid())); err != nil {
		coll.Close()
		return fmt.Errorf("write self tgid: %w", err)
	}

	kb.coll = coll
	kb.slots = slots
	kb.logger.Info("bpf object loaded", zap.String("path", objPath))
	return nil
}

func (kb *KernelBackend) Start(ctx context.Context) (transport.Source, error) {
	_ = ctx
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if kb.coll == nil {
		return nil, errors.New("kernel backend not initialized")
	}
	if kb.started {
		return nil, errors.New("kernel backend already started")
	}

	eventsMap, ok := kb.coll.Maps["events"]
	if !ok {
		return nil, errors.New("events map not found")
	}
	rdr, err := ringbuf.NewReader(eventsMap)
	if err != nil {
		return nil, fmt.Errorf("new ringbuf reader: %w", err)
	}

	links := make([]link.Link, 0, len(attachPoints))
	for _, a := range attachPoints {
		prog, ok := kb.coll.Programs[a.prog]
		if !ok {
			closeLinks(links)
			rdr.Close()
			return nil, fmt.Errorf("program %s not found", a.prog)
		}
		lnk, err := link.Tracepoint(a.group, a.name, prog, nil)
		if err != nil {
			closeLinks(links)
			rdr.Close()
			return nil, fmt.Errorf("attach tracepoint %s/%s: %w", a.group, a.name, err)
		}
		links = append(links, lnk)
	}

	kb.links = links
	kb.source = newRingbufSource(rdr, kb.logger)
	kb.started = true
	kb.logger.Info("kernel hooks attached", zap.Int("tracepoints", len(links)))
	return kb.source, nil
}

func (kb *KernelBackend) Slots() tunables.Slots {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if kb.slots == nil {
		return nil
	}
	return kb.slots
}

func (kb *KernelBackend) Stats() collector.Stats {
	kb.mu.Lock()
	coll := kb.coll
	kb.mu.Unlock()

	st := collector.Stats{Backend: collector.BackendKernel, ProcessCapacity: 1024}
	if coll == nil {
		return st
	}
	if m, ok := coll.Maps["stats"]; ok {
		st.Emitted = lookupStat(m, statEmitted)
		st.Dropped = lookupStat(m, statRingbufDrops)
		st.StateMisses = lookupStat(m, statProcInsertFail)
	}
	if m, ok := coll.Maps["procs"]; ok {
		st.ProcessCapacity = int(m.MaxEntries())
		st.TrackedProcs = countEntries(m)
	}
	return st
}

func (kb *KernelBackend) Stop(ctx context.Context) error {
	_ = ctx
	kb.mu.Lock()
	links := append([]link.Link{}, kb.links...)
	src := kb.source
	coll := kb.coll
	kb.links = nil
	kb.source = nil
	kb.coll = nil
	kb.slots = nil
	kb.started = false
	kb.mu.Unlock()

	var errs []error
	// Detach first so no new records arrive while the reader drains.
	closeLinks(links)
	if src != nil {
		if err := src.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if coll != nil {
		coll.Close()
	}
	return errors.Join(errs...)
}

func closeLinks(links []link.Link) {
	for _, l := range links {
		_ = l.Close()
	}
}

func lookupStat(m *ebpf.Map, idx uint32) uint64 {
	var v uint64
	if err := m.Lookup(idx, &v); err != nil {
		return 0
	}
	return v
}

// kernelProcess mirrors struct process_behavior.
type kernelProcess struct {
	SyscallCount           uint64
	FileAccessCount        uint64
	NetworkConnectionCount uint64
	LastActivity           uint64
	VerdictGen             uint64
	Flags                  uint32
	_                      uint32
}

func countEntries(m *ebpf.Map) int {
	var (
		key uint32
		val kernelProcess
		n   int
	)
	it := m.Iterate()
	for it.Next(&key, &val) {
		n++
	}
	return n
}

// applyCapacities resizes the tables and the ring buffer before load. Zero
// keeps the size compiled into the object. The ring buffer is sized in bytes:
// enough whole records for the requested capacity, rounded up to a power of
// two of at least one page.
func applyCapacities(spec *ebpf.CollectionSpec, cfg collector.Config, pageSize int) error {
	sizes := []struct {
		name string
		n    int
	}{
		{"procs", cfg.ProcessCapacity},
		{"files", cfg.FileCapacity},
		{"conns", cfg.ConnCapacity},
		{"events", ringBytes(cfg.RingCapacity, pageSize)},
	}
	for _, sz := range sizes {
		if sz.n <= 0 {
			continue
		}
		m, ok := spec.Maps[sz.name]
		if !ok {
			return fmt.Errorf("%s map not found", sz.name)
		}
		m.MaxEntries = uint32(sz.n)
	}
	return nil
}

// ringBytes converts a record count into a valid ring buffer size. The
// kernel adds an 8 byte header to every record.
func ringBytes(records, pageSize int) int {
	if records <= 0 {
		return 0
	}
	n := uint64(records) * uint64(event.RecordSize+8)
	n = max(n, uint64(pageSize))
	return 1 << bits.Len64(n-1)
}
