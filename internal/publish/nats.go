// Package publish re-publishes security events and alerts to NATS.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/melonattacker/bmon/internal/event"
	"github.com/melonattacker/bmon/internal/storage"
)

const DefaultPrefix = "bmon"

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

type Config struct {
	URL           string
	Prefix        string
	MinLevel      event.Level // events below this level are not published; alerts always are
	MaxReconnects int
	ReconnectWait time.Duration
}

type NATSPublisher struct {
	conn     Conn
	prefix   string
	minLevel event.Level
	logger   *zap.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// Connect dials NATS. The connection retries in the background if the server
// is not yet reachable.
func Connect(cfg Config, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("nats")
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = time.Second
	}

	opts := []nats.Option{
		nats.Name("bmond"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS error", zap.Error(err))
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", cfg.URL, err)
	}
	return New(nc, cfg, logger), nil
}

// New wraps an existing connection.
func New(conn Conn, cfg Config, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := strings.Trim(strings.TrimSpace(cfg.Prefix), ".")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix, minLevel: cfg.MinLevel, logger: logger}
}

func (p *NATSPublisher) Name() string { return "nats" }

func (p *NATSPublisher) EventSubject(typ string) string {
	return p.prefix + ".events." + typ
}

func (p *NATSPublisher) AlertSubject(severity string) string {
	return p.prefix + ".alerts." + severity
}

// Publish sends an event record to <prefix>.events.<type>.
func (p *NATSPublisher) Publish(ctx context.Context, rec event.Record) error {
	_ = ctx
	if rec.LevelOf() < p.minLevel {
		return nil
	}
	return p.send(p.EventSubject(rec.Type), rec)
}

// PublishAlert sends an alert to <prefix>.alerts.<severity>.
func (p *NATSPublisher) PublishAlert(ctx context.Context, alert storage.Event) error {
	_ = ctx
	if alert.Alert == nil {
		return fmt.Errorf("publish alert seq %d: missing alert", alert.Seq)
	}
	return p.send(p.AlertSubject(alert.Alert.Severity), alert)
}

func (p *NATSPublisher) send(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(subject, b); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.published.Add(1)
	return nil
}

func (p *NATSPublisher) Published() uint64 { return p.published.Load() }
func (p *NATSPublisher) Failed() uint64    { return p.failed.Load() }

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	err := p.conn.FlushTimeout(2 * time.Second)
	p.conn.Close()
	if err != nil && err != nats.ErrConnectionClosed {
		return fmt.Errorf("flush NATS: %w", err)
	}
	return nil
}
