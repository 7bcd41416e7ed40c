// Package analyzer drains the event transport, summarizes each event, keeps
// running aggregates and forwards records to downstream sinks.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/melonattacker/bmon/internal/event"
	"github.com/melonattacker/bmon/internal/transport"
)

const maxTrackedPIDs = 4096

// Sink receives every valid record. Errors are logged and counted; they never
// stop the analyzer.
type Sink interface {
	Name() string
	Publish(ctx context.Context, rec event.Record) error
}

type Stats struct {
	Total          uint64            `json:"total"`
	Invalid        uint64            `json:"invalid"`
	SinkErrors     uint64            `json:"sink_errors"`
	ByType         map[string]uint64 `json:"by_type"`
	ByLevel        map[string]uint64 `json:"by_level"`
	SuspiciousPIDs int               `json:"suspicious_pids"`
	FirstTS        uint64            `json:"first_mono_ns,omitempty"`
	LastTS         uint64            `json:"last_mono_ns,omitempty"`
}

type Analyzer struct {
	logger *zap.Logger
	sinks  []Sink

	eventsCounter metric.Int64Counter
	sinkErrors    metric.Int64Counter

	mu         sync.Mutex
	stats      Stats
	suspicious map[uint32]struct{}
}

type Option func(*config)

type config struct {
	sinks    []Sink
	provider metric.MeterProvider
}

func WithSinks(sinks ...Sink) Option {
	return func(c *config) { c.sinks = append(c.sinks, sinks...) }
}

// WithMeterProvider overrides the global OpenTelemetry meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *config) { c.provider = mp }
}

func New(logger *zap.Logger, opts ...Option) (*Analyzer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var c config
	for _, opt := range opts {
		opt(&c)
	}
	if c.provider == nil {
		c.provider = otel.GetMeterProvider()
	}

	meter := c.provider.Meter("bmon.analyzer")
	events, err := meter.Int64Counter("bmon.analyzer.events",
		metric.WithDescription("Security events consumed from the transport"))
	if err != nil {
		return nil, fmt.Errorf("create events counter: %w", err)
	}
	sinkErrors, err := meter.Int64Counter("bmon.analyzer.sink_errors",
		metric.WithDescription("Records a sink failed to accept"))
	if err != nil {
		return nil, fmt.Errorf("create sink error counter: %w", err)
	}

	return &Analyzer{
		logger:        logger.Named("analyzer"),
		sinks:         c.sinks,
		eventsCounter: events,
		sinkErrors:    sinkErrors,
		stats: Stats{
			ByType:  make(map[string]uint64),
			ByLevel: make(map[string]uint64),
		},
		suspicious: make(map[uint32]struct{}),
	}, nil
}

// Run consumes src until ctx is done or src is closed and drained. Both are
// normal shutdowns and return nil.
func (a *Analyzer) Run(ctx context.Context, src transport.Source) error {
	a.logger.Info("analyzer started")
	defer a.logger.Info("analyzer stopped")
	for {
		ev, err := src.Read(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read transport: %w", err)
		}
		a.Handle(ctx, ev)
	}
}

// Handle processes a single event as Run would.
func (a *Analyzer) Handle(ctx context.Context, ev event.SecurityEvent) {
	if err := ev.Validate(); err != nil {
		a.mu.Lock()
		a.stats.Invalid++
		a.mu.Unlock()
		a.logger.Debug("invalid event skipped", zap.Error(err))
		return
	}

	rec := ev.ToRecord()
	a.record(ev, rec)
	a.eventsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", rec.Type),
		attribute.String("level", rec.Level),
	))
	a.log(ev, rec)

	for _, s := range a.sinks {
		if err := s.Publish(ctx, rec); err != nil {
			a.mu.Lock()
			a.stats.SinkErrors++
			a.mu.Unlock()
			a.sinkErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", s.Name())))
			a.logger.Warn("sink publish failed", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
}

func (a *Analyzer) record(ev event.SecurityEvent, rec event.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Total++
	a.stats.ByType[rec.Type]++
	a.stats.ByLevel[rec.Level]++
	if a.stats.FirstTS == 0 || ev.Timestamp < a.stats.FirstTS {
		a.stats.FirstTS = ev.Timestamp
	}
	if ev.Timestamp > a.stats.LastTS {
		a.stats.LastTS = ev.Timestamp
	}
	if Indicates(ev) && len(a.suspicious) < maxTrackedPIDs {
		a.suspicious[ev.PID] = struct{}{}
	}
	a.stats.SuspiciousPIDs = len(a.suspicious)
}

func (a *Analyzer) log(ev event.SecurityEvent, rec event.Record) {
	fields := []zap.Field{
		zap.String("type", rec.Type),
		zap.String("level", rec.Level),
		zap.Uint32("pid", ev.PID),
		zap.Uint32("uid", ev.UID),
		zap.String("comm", rec.Comm),
		zap.Uint64("mono_ns", ev.Timestamp),
	}
	msg := Summarize(ev)
	switch ev.Level {
	case event.Low:
		a.logger.Debug(msg, fields...)
	case event.Medium:
		a.logger.Info(msg, fields...)
	case event.High:
		a.logger.Warn(msg, fields...)
	default:
		a.logger.Error(msg, fields...)
	}
}

func (a *Analyzer) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.stats
	out.ByType = make(map[string]uint64, len(a.stats.ByType))
	for k, v := range a.stats.ByType {
		out.ByType[k] = v
	}
	out.ByLevel = make(map[string]uint64, len(a.stats.ByLevel))
	for k, v := range a.stats.ByLevel {
		out.ByLevel[k] = v
	}
	return out
}

// Indicates reports whether ev marks its process as behaving suspiciously.
// Audit events and the activity-volume performance signal do not.
func Indicates(ev event.SecurityEvent) bool {
	switch ev.Type {
	case event.SyscallAnomaly:
		return !strings.HasPrefix(ev.DetailsString(), "perf:")
	case event.NetworkAnomaly, event.FileAccessDenied:
		return true
	case event.ProcessCreated, event.PrivilegeEscalation:
		return false
	default:
		return false
	}
}

// Summarize renders a one-line human description of ev.
func Summarize(ev event.SecurityEvent) string {
	comm, details := ev.CommString(), ev.DetailsString()
	switch ev.Type {
	case event.SyscallAnomaly:
		if strings.HasPrefix(details, "perf:") {
			return fmt.Sprintf("runaway activity from %s[%d]: %s", comm, ev.PID, strings.TrimSpace(strings.TrimPrefix(details, "perf:")))
		}
		return fmt.Sprintf("syscall anomaly in %s[%d]: %s", comm, ev.PID, details)
	case event.NetworkAnomaly:
		return fmt.Sprintf("network anomaly in %s[%d]: %s", comm, ev.PID, details)
	case event.FileAccessDenied:
		return fmt.Sprintf("suspicious file access by %s[%d]: %s", comm, ev.PID, details)
	case event.ProcessCreated:
		return fmt.Sprintf("process %s[%d] uid=%d exec %s", comm, ev.PID, ev.UID, details)
	case event.PrivilegeEscalation:
		return fmt.Sprintf("privileged exec by %s[%d]: %s", comm, ev.PID, details)
	default:
		return fmt.Sprintf("unknown event type %d from %s[%d]", uint32(ev.Type), comm, ev.PID)
	}
}
