package state

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SweepConfig drives the low-frequency maintenance task that evicts stale
// entries. Hooks never iterate the tables themselves.
type SweepConfig struct {
	Interval       time.Duration
	FileTTL        time.Duration
	ConnTTL        time.Duration
	ProcessIdleTTL time.Duration
	// HighWater is the process-table utilization (0-1) above which idle
	// records are evicted even when the process still looks alive.
	HighWater float64
	// Alive reports whether pid still exists. Nil means unknown.
	Alive func(pid uint32) bool
	Now   func() uint64
}

type SweepResult struct {
	Files     int
	Conns     int
	Processes int
}

type Sweeper struct {
	store  *Store
	cfg    SweepConfig
	logger *zap.Logger
}

func NewSweeper(store *Store, cfg SweepConfig, logger *zap.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.FileTTL <= 0 {
		cfg.FileTTL = 2 * time.Minute
	}
	if cfg.ConnTTL <= 0 {
		cfg.ConnTTL = 2 * time.Minute
	}
	if cfg.ProcessIdleTTL <= 0 {
		cfg.ProcessIdleTTL = 10 * time.Minute
	}
	if cfg.HighWater <= 0 || cfg.HighWater > 1 {
		cfg.HighWater = 0.9
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, cfg: cfg, logger: logger}
}

func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if s.cfg.Now == nil {
				continue
			}
			res := s.SweepOnce(s.cfg.Now())
			if res.Files+res.Conns+res.Processes > 0 {
				s.logger.Debug("state sweep",
					zap.Int("files", res.Files),
					zap.Int("conns", res.Conns),
					zap.Int("processes", res.Processes),
				)
			}
		}
	}
}

func (s *Sweeper) SweepOnce(now uint64) SweepResult {
	var res SweepResult
	res.Files = s.store.files.evictIf(func(_ FileKey, r *FileAccessRecord) bool {
		return expired(now, r.LastAccess(), s.cfg.FileTTL)
	})
	res.Conns = s.store.conns.evictIf(func(_ ConnKey, r *NetworkConnectionRecord) bool {
		return expired(now, r.LastConnect(), s.cfg.ConnTTL)
	})

	pressure := float64(s.store.procs.len()) >= s.cfg.HighWater*float64(s.store.procs.cap())
	res.Processes = s.store.procs.evictIf(func(pid uint32, p *ProcessBehavior) bool {
		if !expired(now, p.LastActivity(), s.cfg.ProcessIdleTTL) {
			return false
		}
		if pressure {
			return true
		}
		return s.cfg.Alive != nil && !s.cfg.Alive(pid)
	})
	return res
}

func expired(now, last uint64, ttl time.Duration) bool {
	return now > last && now-last > uint64(ttl)
}
