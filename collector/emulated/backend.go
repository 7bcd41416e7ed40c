// Package emulated hosts the hook set in-process. Drivers such as scenarios
// call the Monitor's hooks directly and the analyzer drains the ring exactly
// as it would drain the kernel ring buffer.
package emulated

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	common "github.com/melonattacker/bmon/collector/common"
	"github.com/melonattacker/bmon/internal/clock"
	"github.com/melonattacker/bmon/internal/hooks"
	"github.com/melonattacker/bmon/internal/state"
	"github.com/melonattacker/bmon/internal/transport"
	"github.com/melonattacker/bmon/internal/tunables"
)

type Backend struct {
	cfg    common.Config
	sweep  state.SweepConfig
	logger *zap.Logger

	mu      sync.Mutex
	store   *state.Store
	slots   *tunables.Table
	ring    *transport.Ring
	monitor *hooks.Monitor
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*Backend)

func WithSweep(cfg state.SweepConfig) Option {
	return func(b *Backend) { b.sweep = cfg }
}

func New(cfg common.Config, logger *zap.Logger, opts ...Option) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Backend{cfg: cfg, logger: logger.Named("emulated")}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return common.BackendEmulated }

func (b *Backend) Init(ctx context.Context) error {
	_ = ctx
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.monitor != nil {
		return nil
	}

	b.store = state.NewStore(state.Options{
		ProcessCapacity: b.cfg.ProcessCapacity,
		FileCapacity:    b.cfg.FileCapacity,
		ConnCapacity:    b.cfg.ConnCapacity,
	})
	b.slots = tunables.NewTable()
	if err := common.ApplyThresholds(b.slots, b.cfg); err != nil {
		return fmt.Errorf("apply thresholds: %w", err)
	}
	b.ring = transport.NewRing(b.cfg.RingCapacity)
	b.monitor = hooks.NewMonitor(b.store, b.slots, b.ring, hooks.WithSelfPID(uint32(os.Getpid())))
	return nil
}

func (b *Backend) Start(ctx context.Context) (transport.Source, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.monitor == nil {
		return nil, errors.New("emulated backend not initialized")
	}
	if b.started {
		return nil, errors.New("emulated backend already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.started = true

	sweep := b.sweep
	if sweep.Interval == 0 {
		sweep.Interval = b.cfg.SweepInterval
	}
	if sweep.ProcessIdleTTL == 0 {
		sweep.ProcessIdleTTL = b.cfg.ProcessIdleTTL
	}
	if sweep.Now == nil {
		sweep.Now = clock.Monotonic
	}
	if sweep.Alive == nil {
		sweep.Alive = state.ProcAlive
	}
	sw := state.NewSweeper(b.store, sweep, b.logger)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sw.Run(runCtx)
	}()

	b.logger.Info("emulated backend started",
		zap.Int("ring_capacity", b.ring.Cap()),
		zap.Int("process_capacity", b.store.Stats().ProcessCapacity),
	)
	return b.ring, nil
}

// Monitor exposes the hook set to drivers. It is nil before Init.
func (b *Backend) Monitor() *hooks.Monitor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.monitor
}

func (b *Backend) Slots() tunables.Slots {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.slots == nil {
		return nil
	}
	return b.slots
}

func (b *Backend) Stats() common.Stats {
	b.mu.Lock()
	m, store := b.monitor, b.store
	b.mu.Unlock()

	st := common.Stats{Backend: common.BackendEmulated}
	if m == nil {
		return st
	}
	ms := m.Stats()
	ss := store.Stats()
	st.Emitted = ms.Emitted
	st.Dropped = ms.Dropped
	st.StateMisses = ms.StateMisses
	st.TrackedProcs = ss.Processes
	st.ProcessCapacity = ss.ProcessCapacity
	return st
}

func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		ring := b.ring
		b.mu.Unlock()
		if ring != nil {
			return ring.Close()
		}
		return nil
	}
	b.started = false
	cancel, ring := b.cancel, b.ring
	b.mu.Unlock()

	cancel()
	var errs []error
	if err := ring.Close(); err != nil {
		errs = append(errs, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.wg.Wait()
	}()
	select {
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	case <-done:
	}
	return errors.Join(errs...)
}
