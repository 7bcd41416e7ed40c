package emulated

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	common "github.com/melonattacker/bmon/collector/common"
	"github.com/melonattacker/bmon/internal/event"
	"github.com/melonattacker/bmon/internal/transport"
	"github.com/melonattacker/bmon/internal/tunables"
)

func TestBackendLifecycle(t *testing.T) {
	b := New(common.Config{FileAccessThreshold: 2, RingCapacity: 16}, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := b.Start(ctx)
	require.Error(t, err, "start before init")

	require.NoError(t, b.Init(ctx))
	v, err := b.Slots().Get(tunables.SlotFileAccessThreshold)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	src, err := b.Start(ctx)
	require.NoError(t, err)

	task := event.Task{PID: 10, UID: 1000, Comm: "emu"}
	b.Monitor().SyscallOpen(task, "/a")
	b.Monitor().SyscallOpen(task, "/b")

	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ev, err := src.Read(readCtx)
	require.NoError(t, err)
	assert.Equal(t, event.SyscallAnomaly, ev.Type)
	assert.Equal(t, uint32(10), ev.PID)

	st := b.Stats()
	assert.Equal(t, common.BackendEmulated, st.Backend)
	assert.Equal(t, uint64(1), st.Emitted)
	assert.Equal(t, 1, st.TrackedProcs)

	require.NoError(t, b.Stop(ctx))
	_, err = src.Read(ctx)
	assert.ErrorIs(t, err, transport.ErrClosed)
	require.NoError(t, b.Stop(ctx), "stop is idempotent")
}
