package alert

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/melonattacker/bmon/internal/analyzer"
	"github.com/melonattacker/bmon/internal/event"
	"github.com/melonattacker/bmon/internal/storage"
)

// Recorder persists events and the alerts raised for them. *storage.Store
// implements it.
type Recorder interface {
	AppendEvent(ts int64, rec event.Record, summary string) (storage.Event, error)
	AppendAlert(ts int64, a storage.Alert, related storage.Event) (storage.Event, error)
}

// Publisher receives alerts only.
type Publisher interface {
	PublishAlert(ctx context.Context, alert storage.Event) error
}

// Sink is an analyzer sink that records every event, evaluates the rules
// against it and forwards the resulting alerts.
type Sink struct {
	engine     *Engine
	recorder   Recorder
	publishers []Publisher
	logger     *zap.Logger
	now        func() int64
}

// NewSink builds a sink. recorder may be nil, in which case events are not
// persisted and alerts are only forwarded.
func NewSink(engine *Engine, recorder Recorder, logger *zap.Logger, publishers ...Publisher) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		engine:     engine,
		recorder:   recorder,
		publishers: publishers,
		logger:     logger.Named("alert"),
		now:        storage.NowUnixNanos,
	}
}

func (s *Sink) Name() string { return "alert" }

func (s *Sink) Publish(ctx context.Context, rec event.Record) error {
	ts := s.now()
	related, err := s.recordEvent(ts, rec)
	if err != nil {
		return err
	}

	var errs []error
	for _, a := range s.engine.Evaluate(rec) {
		ev, err := s.recordAlert(ts, a, related)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Warn(ev.Summary,
			zap.String("rule_id", a.RuleID),
			zap.String("severity", a.Severity),
			zap.Uint32("pid", ev.PID),
			zap.Int64("related_seq", a.RelatedSeq),
		)
		for _, p := range s.publishers {
			if err := p.PublishAlert(ctx, ev); err != nil {
				errs = append(errs, fmt.Errorf("publish alert %s: %w", a.RuleID, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) recordEvent(ts int64, rec event.Record) (storage.Event, error) {
	summary := rec.String()
	if ev, err := event.FromRecord(rec); err == nil {
		summary = analyzer.Summarize(ev)
	}
	if s.recorder == nil {
		return storage.Event{
			TS:      ts,
			MonoNS:  rec.Timestamp,
			Type:    rec.Type,
			Level:   rec.Level,
			PID:     rec.PID,
			UID:     rec.UID,
			GID:     rec.GID,
			Comm:    rec.Comm,
			Details: rec.Details,
			Summary: summary,
		}, nil
	}
	ev, err := s.recorder.AppendEvent(ts, rec, summary)
	if err != nil {
		return storage.Event{}, fmt.Errorf("record event: %w", err)
	}
	return ev, nil
}

func (s *Sink) recordAlert(ts int64, a storage.Alert, related storage.Event) (storage.Event, error) {
	if s.recorder == nil {
		a.RelatedSeq = related.Seq
		return storage.Event{
			TS:      ts,
			MonoNS:  related.MonoNS,
			Type:    storage.TypeAlert,
			PID:     related.PID,
			UID:     related.UID,
			GID:     related.GID,
			Comm:    related.Comm,
			Summary: fmt.Sprintf("[%s] %s: %s", a.Severity, a.RuleID, a.Message),
			Alert:   &a,
		}, nil
	}
	ev, err := s.recorder.AppendAlert(ts, a, related)
	if err != nil {
		return storage.Event{}, fmt.Errorf("record alert %s: %w", a.RuleID, err)
	}
	return ev, nil
}
