//go:build linux

package linuxcollector

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"time"

	"github.com/cilium/ebpf/ringbuf"
	"go.uber.org/zap"

	"github.com/melonattacker/bmon/internal/event"
	"github.com/melonattacker/bmon/internal/transport"
)

// pollInterval bounds how long Read waits in the kernel before rechecking ctx.
const pollInterval = 250 * time.Millisecond

type ringbufSource struct {
	rdr    *ringbuf.Reader
	logger *zap.Logger

	malformed atomic.Uint64
}

func newRingbufSource(rdr *ringbuf.Reader, logger *zap.Logger) *ringbufSource {
	return &ringbufSource{rdr: rdr, logger: logger}
}

// Read returns the next well-formed record. Short records are counted and
// skipped.
func (s *ringbufSource) Read(ctx context.Context) (event.SecurityEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return event.SecurityEvent{}, err
		}
		s.rdr.SetDeadline(time.Now().Add(pollInterval))
		rec, err := s.rdr.Read()
		if err != nil {
			switch {
			case errors.Is(err, os.ErrDeadlineExceeded):
				continue
			case errors.Is(err, ringbuf.ErrClosed):
				return event.SecurityEvent{}, transport.ErrClosed
			default:
				return event.SecurityEvent{}, err
			}
		}

		var ev event.SecurityEvent
		if err := ev.UnmarshalBinary(rec.RawSample); err != nil {
			if s.malformed.Add(1) == 1 {
				s.logger.Warn("malformed ringbuf record", zap.Int("len", len(rec.RawSample)), zap.Error(err))
			}
			continue
		}
		return ev, nil
	}
}

func (s *ringbufSource) Close() error {
	return s.rdr.Close()
}
