package bmond

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/melonattacker/bmon/internal/analyzer"
	"github.com/melonattacker/bmon/internal/event"
	"github.com/melonattacker/bmon/internal/ipc"
	"github.com/melonattacker/bmon/internal/tunables"
)

const (
	requestTimeout = 15 * time.Second
	writeTimeout   = 5 * time.Second
)

// Server answers control requests on a unix socket.
type Server struct {
	sockPath string
	slots    tunables.Slots
	bcast    *analyzer.Broadcaster
	status   func() ipc.StatusResponse
	ownerUID uint32
	logger   *zap.Logger

	ready chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func NewServer(sockPath string, slots tunables.Slots, bcast *analyzer.Broadcaster, status func() ipc.StatusResponse, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		sockPath: sockPath,
		slots:    slots,
		bcast:    bcast,
		status:   status,
		ownerUID: uint32(os.Getuid()),
		logger:   logger.Named("server"),
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the socket accepts connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

func (s *Server) ListenAndServe(ctx context.Context) error {
	if strings.TrimSpace(s.sockPath) == "" {
		s.sockPath = ipc.DefaultSockPath
	}
	_ = os.Remove(s.sockPath)
	if err := os.MkdirAll(filepath.Dir(s.sockPath), 0o755); err != nil {
		return err
	}

	addr := &net.UnixAddr{Name: s.sockPath, Net: "unix"}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return err
	}
	_ = os.Chmod(s.sockPath, 0o666)
	s.logger.Info("control socket listening", zap.String("path", s.sockPath))
	s.once.Do(func() { close(s.ready) })

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	defer func() {
		s.wg.Wait()
		_ = os.Remove(s.sockPath)
	}()

	for {
		c, err := ln.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, c)
		}()
	}
}

func (s *Server) authorized(c *net.UnixConn) error {
	peer, err := ipc.PeerOf(c)
	if err != nil {
		return err
	}
	if !peer.MayControl(s.ownerUID) {
		return errors.New("permission denied")
	}
	return nil
}

func (s *Server) handleConn(ctx context.Context, c *net.UnixConn) {
	conn := ipc.NewConn(c)
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(requestTimeout))
	var req ipc.Request
	if err := conn.Recv(&req); err != nil {
		_ = conn.Send(ipc.Errorf("read request: %v", err))
		return
	}

	switch req.Op {
	case ipc.OpStatus:
		st := s.status()
		_ = conn.Send(ipc.Response{OK: true, Status: &st})
	case ipc.OpGetSlots:
		snap := tunables.Snapshot(s.slots)
		_ = conn.Send(ipc.Response{OK: true, Slots: snap[:]})
	case ipc.OpSetSlot:
		if err := s.authorized(c); err != nil {
			_ = conn.Send(ipc.Errorf("set_slot: %v", err))
			return
		}
		if err := tunables.CheckWritable(req.Slot); err != nil {
			_ = conn.Send(ipc.Errorf("%v", err))
			return
		}
		if err := s.slots.Set(req.Slot, req.Value); err != nil {
			_ = conn.Send(ipc.Errorf("%v", err))
			return
		}
		s.logger.Info("slot updated",
			zap.String("slot", tunables.SlotName(req.Slot)),
			zap.Uint64("value", req.Value),
		)
		_ = conn.Send(ipc.Response{OK: true})
	case ipc.OpSubscribe:
		if err := s.authorized(c); err != nil {
			_ = conn.Send(ipc.Errorf("subscribe: %v", err))
			return
		}
		s.stream(ctx, conn, req.MinLevel)
	default:
		_ = conn.Send(ipc.Errorf("unknown op %q", req.Op))
	}
}

// stream forwards broadcast records until the client disconnects or the
// server shuts down. A slow client misses records rather than stalling
// the analyzer.
func (s *Server) stream(ctx context.Context, conn *ipc.Conn, level string) {
	minLevel := event.Low
	if strings.TrimSpace(level) != "" {
		l, err := event.ParseLevel(level)
		if err != nil {
			_ = conn.Send(ipc.Errorf("subscribe: %v", err))
			return
		}
		minLevel = l
	}

	id, ch, cancel := s.bcast.Subscribe(minLevel, 0)
	defer cancel()
	_ = conn.SetDeadline(time.Time{})
	if err := conn.Send(ipc.Response{OK: true}); err != nil {
		return
	}
	log := s.logger.With(zap.String("subscriber", id))
	log.Debug("subscriber attached", zap.Stringer("min_level", minLevel))
	defer log.Debug("subscriber detached")

	// Clients send nothing after subscribing; a failed read means hangup.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		var discard ipc.Request
		for conn.Recv(&discard) == nil {
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case rec, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.Send(ipc.Response{OK: true, Record: &rec}); err != nil {
				return
			}
		}
	}
}
