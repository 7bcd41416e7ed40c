package analyzer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"

	"github.com/melonattacker/bmon/internal/event"
	"github.com/melonattacker/bmon/internal/transport"
)

type captureSink struct {
	mu   sync.Mutex
	recs []event.Record
	err  error
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Publish(_ context.Context, rec event.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
	return c.err
}

func (c *captureSink) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recs)
}

func ev(typ event.Type, lvl event.Level, pid uint32, ts uint64, details string) event.SecurityEvent {
	return event.New(typ, lvl, event.Task{PID: pid, UID: 1000, Comm: "proc"}, ts, details)
}

func TestRunDrainsUntilClosed(t *testing.T) {
	ring := transport.NewRing(16)
	sink := &captureSink{}
	a, err := New(zaptest.NewLogger(t), WithSinks(sink))
	require.NoError(t, err)

	require.NoError(t, ring.Emit(ev(event.ProcessCreated, event.Low, 1, 10, "/bin/ls")))
	require.NoError(t, ring.Emit(ev(event.SyscallAnomaly, event.Medium, 2, 20, "file access threshold crossed")))
	require.NoError(t, ring.Emit(ev(event.FileAccessDenied, event.High, 2, 30, "open /etc/shadow")))
	require.NoError(t, ring.Close())

	require.NoError(t, a.Run(context.Background(), ring))

	st := a.Stats()
	assert.Equal(t, uint64(3), st.Total)
	assert.Equal(t, uint64(1), st.ByType["process_created"])
	assert.Equal(t, uint64(1), st.ByLevel["high"])
	assert.Equal(t, 1, st.SuspiciousPIDs)
	assert.Equal(t, uint64(10), st.FirstTS)
	assert.Equal(t, uint64(30), st.LastTS)
	assert.Equal(t, 3, sink.len())
}

func TestRunStopsOnCancel(t *testing.T) {
	ring := transport.NewRing(4)
	a, err := New(zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, ring) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("analyzer did not stop")
	}
}

func TestInvalidEventsAreCountedAndSkipped(t *testing.T) {
	sink := &captureSink{}
	a, err := New(zaptest.NewLogger(t), WithSinks(sink))
	require.NoError(t, err)

	bad := ev(event.ProcessCreated, event.Low, 1, 1, "")
	bad.Type = 42
	a.Handle(context.Background(), bad)

	st := a.Stats()
	assert.Equal(t, uint64(1), st.Invalid)
	assert.Zero(t, st.Total)
	assert.Zero(t, sink.len())
}

func TestSinkErrorsDoNotStopProcessing(t *testing.T) {
	failing := &captureSink{err: errors.New("boom")}
	ok := &captureSink{}
	a, err := New(zaptest.NewLogger(t), WithSinks(failing, ok))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		a.Handle(context.Background(), ev(event.NetworkAnomaly, event.Medium, 5, uint64(i+1), "x"))
	}
	assert.Equal(t, uint64(3), a.Stats().SinkErrors)
	assert.Equal(t, 3, ok.len())
}

func TestEventCounterExported(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	a, err := New(zaptest.NewLogger(t), WithMeterProvider(provider))
	require.NoError(t, err)
	a.Handle(context.Background(), ev(event.ProcessCreated, event.Low, 1, 1, "/bin/true"))
	a.Handle(context.Background(), ev(event.ProcessCreated, event.Low, 2, 2, "/bin/true"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "bmon.analyzer.events" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(2), total)
}

func TestSummarizeCoversEveryType(t *testing.T) {
	for _, typ := range event.Types() {
		s := Summarize(ev(typ, event.Medium, 9, 1, "d"))
		assert.NotContains(t, s, "unknown event type", typ.String())
		assert.Contains(t, s, "[9]")
	}
	assert.True(t, strings.HasPrefix(Summarize(ev(event.SyscallAnomaly, event.Medium, 9, 1, "perf: runaway activity, 10 events")), "runaway activity"))
}

func TestIndicates(t *testing.T) {
	assert.True(t, Indicates(ev(event.SyscallAnomaly, event.Medium, 1, 1, "file access threshold crossed")))
	assert.False(t, Indicates(ev(event.SyscallAnomaly, event.Medium, 1, 1, "perf: runaway activity")))
	assert.True(t, Indicates(ev(event.FileAccessDenied, event.High, 1, 1, "open /x")))
	assert.False(t, Indicates(ev(event.ProcessCreated, event.Low, 1, 1, "/bin/sh")))
	assert.False(t, Indicates(ev(event.PrivilegeEscalation, event.High, 1, 1, "exec as root")))
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	_, highCh, cancelHigh := b.Subscribe(event.High, 1)
	_, allCh, cancelAll := b.Subscribe(event.Low, 4)
	assert.Equal(t, 2, b.Subscribers())

	low := ev(event.ProcessCreated, event.Low, 1, 1, "/bin/ls").ToRecord()
	high := ev(event.FileAccessDenied, event.High, 1, 2, "open /x").ToRecord()
	require.NoError(t, b.Publish(context.Background(), low))
	require.NoError(t, b.Publish(context.Background(), high))
	require.NoError(t, b.Publish(context.Background(), high))

	got := <-highCh
	assert.Equal(t, "file_access_denied", got.Type)
	assert.Equal(t, uint64(1), b.Dropped(), "second high record overflows the 1-slot buffer")
	assert.Len(t, allCh, 3)

	cancelHigh()
	cancelHigh()
	_, open := <-highCh
	assert.False(t, open)
	cancelAll()
	assert.Zero(t, b.Subscribers())
}
