//go:build linux

package bmond

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/melonattacker/bmon/internal/analyzer"
	"github.com/melonattacker/bmon/internal/event"
	"github.com/melonattacker/bmon/internal/ipc"
	"github.com/melonattacker/bmon/internal/tunables"
)

func startServer(t *testing.T) (*Server, *tunables.Table, *analyzer.Broadcaster, string) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "bmon.sock")
	slots := tunables.NewTable()
	bcast := analyzer.NewBroadcaster()
	status := func() ipc.StatusResponse { return ipc.StatusResponse{Version: "test"} }
	srv := NewServer(sock, slots, bcast, status, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	select {
	case <-srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server not ready")
	}
	return srv, slots, bcast, sock
}

func dial(t *testing.T, sock string) *ipc.Client {
	t.Helper()
	c, err := ipc.DialPath(context.Background(), sock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestServerStatusAndSlots(t *testing.T) {
	_, slots, _, sock := startServer(t)
	ctx := context.Background()

	st, err := dial(t, sock).Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", st.Version)

	require.NoError(t, dial(t, sock).SetSlot(ctx, tunables.SlotVerdict, 1))
	assert.True(t, tunables.VerdictSet(slots))

	vals, err := dial(t, sock).GetSlots(ctx)
	require.NoError(t, err)
	require.Len(t, vals, tunables.NumSlots)
	assert.Equal(t, uint64(1), vals[tunables.SlotVerdict])

	err = dial(t, sock).SetSlot(ctx, tunables.NumSlots, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	require.NoError(t, slots.Set(tunables.SlotSelfTGID, 321))
	err = dial(t, sock).SetSlot(ctx, tunables.SlotSelfTGID, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")
	assert.True(t, tunables.IsSelf(slots, 321))
}

func TestServerSubscribe(t *testing.T) {
	_, _, bcast, sock := startServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan event.Record, 4)
	done := make(chan error, 1)
	c := dial(t, sock)
	go func() {
		done <- c.Subscribe(ctx, "high", func(r event.Record) error {
			got <- r
			return nil
		})
	}()
	require.Eventually(t, func() bool { return bcast.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	low := event.New(event.ProcessCreated, event.Low, event.Task{PID: 1, Comm: "ls"}, 1, "/bin/ls").ToRecord()
	high := event.New(event.FileAccessDenied, event.High, event.Task{PID: 2, Comm: "cat"}, 2, "open /etc/shadow").ToRecord()
	require.NoError(t, bcast.Publish(ctx, low))
	require.NoError(t, bcast.Publish(ctx, high))

	select {
	case r := <-got:
		assert.Equal(t, "file_access_denied", r.Type)
		assert.Equal(t, uint32(2), r.PID)
	case <-time.After(5 * time.Second):
		t.Fatal("no event streamed")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("subscribe did not return")
	}
	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return bcast.Subscribers() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestServerRejectsBadSubscribeLevel(t *testing.T) {
	_, _, _, sock := startServer(t)
	err := dial(t, sock).Subscribe(context.Background(), "loud", func(event.Record) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown threat level")
}
