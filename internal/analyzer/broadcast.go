package analyzer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/melonattacker/bmon/internal/event"
)

const defaultSubscriberBuffer = 256

// Broadcaster is a Sink that fans records out to in-process subscribers. A
// subscriber whose buffer is full misses the record; publishing never waits.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]*subscriber

	dropped atomic.Uint64
}

type subscriber struct {
	minLevel event.Level
	ch       chan event.Record
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]*subscriber)}
}

func (b *Broadcaster) Name() string { return "broadcast" }

func (b *Broadcaster) Publish(ctx context.Context, rec event.Record) error {
	_ = ctx
	lvl := rec.LevelOf()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if lvl < s.minLevel {
			continue
		}
		select {
		case s.ch <- rec:
		default:
			// Drop under backpressure.
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a subscriber for records at or above minLevel. The
// returned cancel func unregisters it and closes the channel.
func (b *Broadcaster) Subscribe(minLevel event.Level, buffer int) (string, <-chan event.Record, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	id := uuid.NewString()
	s := &subscriber{minLevel: minLevel, ch: make(chan event.Record, buffer)}

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return id, s.ch, cancel
}

func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }
