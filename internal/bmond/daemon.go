// Package bmond wires the daemon: backend, analyzer, sinks, control socket
// and an optional scripted workload.
package bmond

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/melonattacker/bmon/collector"
	"github.com/melonattacker/bmon/internal/alert"
	"github.com/melonattacker/bmon/internal/analyzer"
	"github.com/melonattacker/bmon/internal/config"
	"github.com/melonattacker/bmon/internal/event"
	"github.com/melonattacker/bmon/internal/hooks"
	"github.com/melonattacker/bmon/internal/ipc"
	"github.com/melonattacker/bmon/internal/publish"
	"github.com/melonattacker/bmon/internal/scenario"
	"github.com/melonattacker/bmon/internal/sessions"
	"github.com/melonattacker/bmon/internal/storage"
	"github.com/melonattacker/bmon/internal/tunables"
)

const (
	metaVersion  = 1
	drainTimeout = 5 * time.Second
)

// monitorProvider is implemented by backends that host the hook set
// in-process.
type monitorProvider interface {
	Monitor() *hooks.Monitor
}

type Daemon struct {
	cfg     config.Config
	logger  *zap.Logger
	version string

	ready chan struct{}

	newBackend func(collector.Config, *zap.Logger) (collector.Backend, error)

	mu       sync.Mutex
	backend  collector.Backend
	analyzer *analyzer.Analyzer
	bcast    *analyzer.Broadcaster
	store    *storage.Store
	nats     *publish.NATSPublisher
	meta     sessions.Meta
	dir      string
	startTS  int64
	scenario *scenario.Result
}

func New(cfg config.Config, logger *zap.Logger, version string) *Daemon {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Daemon{
		cfg:     cfg,
		logger:  logger,
		version: version,
		ready:   make(chan struct{}),
		bcast:   analyzer.NewBroadcaster(),

		newBackend: collector.New,
	}
}

// Ready is closed once the control socket is serving.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// SessionDir is the directory of the recording session, empty when the
// store is disabled.
func (d *Daemon) SessionDir() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dir
}

// Run blocks until ctx is cancelled or a component fails, then shuts down
// in order: backend, analyzer drain, sinks.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	backend, err := d.newBackend(d.cfg.Collector(), d.logger)
	if err != nil {
		return err
	}
	if err := backend.Init(ctx); err != nil {
		return fmt.Errorf("backend init: %w", err)
	}
	// Until Start succeeds the backend holds loaded programs and maps that
	// shutdown never sees.
	started := false
	defer func() {
		if !started {
			d.abortStartup(backend)
		}
	}()

	rules, err := alert.LoadRulesFile(d.cfg.RulesFile)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	engine := alert.NewEngineWithRules(rules)

	d.startTS = storage.NowUnixNanos()
	var recorder alert.Recorder
	if !d.cfg.NoStore {
		if err := d.openStore(backend); err != nil {
			return err
		}
		recorder = d.store
	}

	var alertPubs []alert.Publisher
	sinks := []analyzer.Sink{d.bcast}
	if d.cfg.NATS.URL != "" {
		minLevel := event.Medium
		if d.cfg.NATS.MinLevel != "" {
			minLevel, _ = event.ParseLevel(d.cfg.NATS.MinLevel)
		}
		pub, err := publish.Connect(publish.Config{URL: d.cfg.NATS.URL, Prefix: d.cfg.NATS.Prefix, MinLevel: minLevel}, d.logger)
		if err != nil {
			return err
		}
		d.nats = pub
		sinks = append(sinks, pub)
		alertPubs = append(alertPubs, pub)
	}
	sinks = append([]analyzer.Sink{alert.NewSink(engine, recorder, d.logger, alertPubs...)}, sinks...)

	an, err := analyzer.New(d.logger, analyzer.WithSinks(sinks...))
	if err != nil {
		return err
	}

	src, err := backend.Start(ctx)
	if err != nil {
		return fmt.Errorf("backend start: %w", err)
	}
	started = true
	d.mu.Lock()
	d.backend, d.analyzer = backend, an
	d.mu.Unlock()
	d.logger.Info("bmond started",
		zap.String("backend", backend.Name()),
		zap.String("session", d.meta.SessionID),
		zap.Int("rules", len(rules)),
	)

	// The analyzer outlives ctx so it can drain the transport after the
	// backend stops.
	anCtx, anCancel := context.WithCancel(context.Background())
	defer anCancel()
	errCh := make(chan error, 3)
	var anWG, wg sync.WaitGroup
	anWG.Add(1)
	go func() {
		defer anWG.Done()
		if err := an.Run(anCtx, src); err != nil {
			errCh <- fmt.Errorf("analyzer: %w", err)
		}
	}()

	srv := NewServer(d.cfg.Socket, backend.Slots(), d.bcast, d.Status, d.logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(ctx); err != nil {
			errCh <- fmt.Errorf("control socket: %w", err)
		}
	}()

	if d.cfg.Scenario != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.runScenario(ctx, backend); err != nil && ctx.Err() == nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-srv.Ready():
		close(d.ready)
	case err := <-errCh:
		cancel()
		wg.Wait()
		return errors.Join(err, d.shutdown(backend, &anWG, anCancel))
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	cancel()
	wg.Wait()
	return errors.Join(runErr, d.shutdown(backend, &anWG, anCancel))
}

func (d *Daemon) shutdown(backend collector.Backend, anWG *sync.WaitGroup, anCancel context.CancelFunc) error {
	stopCtx, stopCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer stopCancel()

	var errs []error
	if err := backend.Stop(stopCtx); err != nil {
		errs = append(errs, fmt.Errorf("backend stop: %w", err))
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		anWG.Wait()
	}()
	select {
	case <-drained:
	case <-stopCtx.Done():
		d.logger.Warn("analyzer drain timed out")
		anCancel()
		<-drained
	}

	errs = append(errs, d.closeSinks())
	d.logger.Info("bmond stopped")
	return errors.Join(errs...)
}

// abortStartup releases a backend that was initialized but never handed to
// shutdown, along with any sinks opened so far.
func (d *Daemon) abortStartup(backend collector.Backend) {
	stopCtx, stopCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer stopCancel()
	if err := backend.Stop(stopCtx); err != nil {
		d.logger.Warn("backend stop after failed startup", zap.Error(err))
	}
	if err := d.closeSinks(); err != nil {
		d.logger.Warn("close sinks after failed startup", zap.Error(err))
	}
}

func (d *Daemon) openStore(backend collector.Backend) error {
	dataDir, err := sessions.Prepare(d.cfg.DataDir)
	if err != nil {
		return err
	}
	id, dir, err := sessions.Create(dataDir, backend.Name(), time.Unix(0, d.startTS))
	if err != nil {
		return err
	}

	host, _ := os.Hostname()
	thresholds := map[string]uint64{}
	if slots := backend.Slots(); slots != nil {
		for _, idx := range []int{tunables.SlotFileAccessThreshold, tunables.SlotNetConnThreshold, tunables.SlotSyscallVolumeThreshold} {
			thresholds[tunables.SlotName(idx)] = tunables.Threshold(slots, idx)
		}
	}
	meta := sessions.Meta{
		SessionID:  id,
		UUID:       uuid.NewString(),
		StartTS:    d.startTS,
		Backend:    backend.Name(),
		Hostname:   host,
		Kernel:     kernelRelease(),
		Scenario:   d.cfg.Scenario,
		Thresholds: thresholds,
		Version:    metaVersion,
	}
	if err := sessions.WriteMeta(dir, meta); err != nil {
		return err
	}
	metaJSON, _ := json.Marshal(meta)
	store, err := storage.Open(storage.OpenParams{
		SessionID: id,
		Dir:       dir,
		StartTS:   d.startTS,
		Backend:   backend.Name(),
		MetaJSON:  string(metaJSON),
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.store, d.meta, d.dir = store, meta, dir
	d.mu.Unlock()
	return nil
}

func (d *Daemon) closeSinks() error {
	d.mu.Lock()
	store, pub, meta, dir := d.store, d.nats, d.meta, d.dir
	d.store, d.nats = nil, nil
	d.mu.Unlock()

	var errs []error
	if pub != nil {
		if err := pub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if store != nil {
		meta.EndTS = storage.NowUnixNanos()
		meta.EventCount, meta.AlertCount = store.Counts()
		if err := sessions.WriteMeta(dir, meta); err != nil {
			errs = append(errs, err)
		}
		metaJSON, _ := json.Marshal(meta)
		if err := store.Close(meta.EndTS, string(metaJSON)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Daemon) runScenario(ctx context.Context, backend collector.Backend) error {
	mp, ok := backend.(monitorProvider)
	if !ok {
		return fmt.Errorf("scenario requires an in-process backend, have %s", backend.Name())
	}
	script, err := scenario.Load(d.cfg.Scenario)
	if err != nil {
		return err
	}
	res, err := scenario.Run(ctx, mp.Monitor(), backend.Slots(), script)
	if err != nil {
		return fmt.Errorf("scenario %s: %w", script.Name, err)
	}
	d.mu.Lock()
	d.scenario = &res
	d.mu.Unlock()

	fields := []zap.Field{zap.String("scenario", script.Name), zap.Int("steps", res.Steps), zap.Int("calls", res.Calls)}
	if !res.OK() {
		d.logger.Warn("scenario expectations failed", append(fields, zap.Strings("failures", res.Failures))...)
		return nil
	}
	d.logger.Info("scenario completed", fields...)
	return nil
}

// ScenarioResult returns the outcome of the startup scenario once it has
// finished.
func (d *Daemon) ScenarioResult() (scenario.Result, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.scenario == nil {
		return scenario.Result{}, false
	}
	return *d.scenario, true
}

func (d *Daemon) Status() ipc.StatusResponse {
	d.mu.Lock()
	backend, an, meta := d.backend, d.analyzer, d.meta
	d.mu.Unlock()

	resp := ipc.StatusResponse{
		PID:         os.Getpid(),
		UID:         os.Getuid(),
		GID:         os.Getgid(),
		Version:     d.version,
		Kernel:      kernelRelease(),
		SessionID:   meta.SessionID,
		StartTS:     d.startTS,
		Subscribers: d.bcast.Subscribers(),
		Broadcast:   d.bcast.Dropped(),
	}
	if backend != nil {
		resp.Collector = backend.Stats()
		if slots := backend.Slots(); slots != nil {
			snap := tunables.Snapshot(slots)
			resp.Slots = snap[:]
		}
	}
	if an != nil {
		resp.Analyzer = an.Stats()
	}
	return resp
}
