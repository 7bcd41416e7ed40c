// Package transport carries security events from hook context to a single
// consumer.
//
// Producers never wait. A reservation that cannot be made, because the ring
// is full or contended past a fixed number of attempts, drops the newest event
// and is counted; nothing is retried and nothing is reported to the observed
// operation.
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/melonattacker/bmon/internal/event"
)

const (
	DefaultCapacity = 4096
	maxReserveTries = 8
)

var (
	ErrDropped = errors.New("event dropped: transport full")
	ErrClosed  = errors.New("transport closed")
)

// Source is drained by the analyzer. Both the in-process Ring and the kernel
// ring buffer reader implement it.
type Source interface {
	Read(ctx context.Context) (event.SecurityEvent, error)
	Close() error
}

type slot struct {
	seq       atomic.Uint64
	discarded bool
	buf       [event.RecordSize]byte
}

type Ring struct {
	mask  uint64
	slots []slot

	enq atomic.Uint64

	readMu sync.Mutex
	deq    uint64

	notify    chan struct{}
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	submitted atomic.Uint64
	dropped   atomic.Uint64
	consumed  atomic.Uint64
	discarded atomic.Uint64
}

// NewRing allocates a ring of fixed-size records. capacity is rounded up to a
// power of two.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	n := uint64(2)
	for n < uint64(capacity) {
		n <<= 1
	}
	r := &Ring{
		mask:   n - 1,
		slots:  make([]slot, n),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i))
	}
	return r
}

func (r *Ring) Cap() int { return len(r.slots) }

// Reservation is a claimed slot. Exactly one of Submit or Discard must be
// called.
type Reservation struct {
	r   *Ring
	s   *slot
	pos uint64
}

// Bytes exposes the slot's record buffer for in-place serialization.
func (res *Reservation) Bytes() []byte { return res.s.buf[:] }

func (res *Reservation) Submit() {
	res.s.discarded = false
	res.s.seq.Store(res.pos + 1)
	res.r.submitted.Add(1)
	res.r.wake()
}

func (res *Reservation) Discard() {
	res.s.discarded = true
	res.s.seq.Store(res.pos + 1)
	res.r.wake()
}

// Reserve claims space for one record. It returns false without blocking
// when the ring is full or closed.
func (r *Ring) Reserve() (*Reservation, bool) {
	if r.closed.Load() {
		r.dropped.Add(1)
		return nil, false
	}
	pos := r.enq.Load()
	for i := 0; i < maxReserveTries; i++ {
		s := &r.slots[pos&r.mask]
		seq := s.seq.Load()
		switch dif := int64(seq - pos); {
		case dif == 0:
			if r.enq.CompareAndSwap(pos, pos+1) {
				return &Reservation{r: r, s: s, pos: pos}, true
			}
			pos = r.enq.Load()
		case dif < 0:
			r.dropped.Add(1)
			return nil, false
		default:
			pos = r.enq.Load()
		}
	}
	r.dropped.Add(1)
	return nil, false
}

// Emit serializes ev into the ring. The only failure is ErrDropped (or
// ErrClosed after Close), which hook callers are expected to ignore.
func (r *Ring) Emit(ev event.SecurityEvent) error {
	res, ok := r.Reserve()
	if !ok {
		if r.closed.Load() {
			return ErrClosed
		}
		return ErrDropped
	}
	ev.PutBinary(res.Bytes())
	res.Submit()
	return nil
}

func (r *Ring) wake() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Read blocks until a record is available, ctx is done, or the ring is closed
// and drained. Only one goroutine consumes at a time.
func (r *Ring) Read(ctx context.Context) (event.SecurityEvent, error) {
	r.readMu.Lock()
	defer r.readMu.Unlock()

	for {
		s := &r.slots[r.deq&r.mask]
		if s.seq.Load() == r.deq+1 {
			var ev event.SecurityEvent
			discarded := s.discarded
			if !discarded {
				_ = ev.UnmarshalBinary(s.buf[:])
			}
			s.seq.Store(r.deq + r.mask + 1)
			r.deq++
			if discarded {
				r.discarded.Add(1)
				continue
			}
			r.consumed.Add(1)
			return ev, nil
		}
		if r.closed.Load() {
			return event.SecurityEvent{}, ErrClosed
		}
		select {
		case <-r.notify:
		case <-r.done:
		case <-ctx.Done():
			return event.SecurityEvent{}, ctx.Err()
		}
	}
}

func (r *Ring) ReadTimeout(d time.Duration) (event.SecurityEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return r.Read(ctx)
}

// Close stops accepting events. Records already submitted remain readable.
func (r *Ring) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
	})
	return nil
}

type Stats struct {
	Capacity  int    `json:"capacity"`
	Submitted uint64 `json:"submitted"`
	Dropped   uint64 `json:"dropped"`
	Consumed  uint64 `json:"consumed"`
	Discarded uint64 `json:"discarded"`
}

func (r *Ring) Stats() Stats {
	return Stats{
		Capacity:  len(r.slots),
		Submitted: r.submitted.Load(),
		Dropped:   r.dropped.Load(),
		Consumed:  r.consumed.Load(),
		Discarded: r.discarded.Load(),
	}
}
