package ipc

import (
	"errors"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melonattacker/bmon/internal/event"
)

func TestResponseErr(t *testing.T) {
	assert.NoError(t, Response{OK: true}.Err())

	var re *RemoteError
	err := Errorf("slot %d out of range", 9).Err()
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "bmond: slot 9 out of range", err.Error())
	assert.EqualError(t, Response{}.Err(), "bmond: request failed")
}

func TestConnFramesValues(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "c.sock")
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: sock, Net: "unix"})
	require.NoError(t, err)
	defer ln.Close()

	got := make(chan Request, 2)
	go func() {
		c, err := ln.AcceptUnix()
		if err != nil {
			return
		}
		conn := NewConn(c)
		defer conn.Close()
		for {
			var req Request
			if conn.Recv(&req) != nil {
				close(got)
				return
			}
			got <- req
			rec := event.New(event.NetworkAnomaly, event.Medium, event.Task{PID: 3, Comm: "curl"}, 5, "burst").ToRecord()
			_ = conn.Send(Response{OK: true, Record: &rec})
		}
	}()

	c, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: sock, Net: "unix"})
	require.NoError(t, err)
	conn := NewConn(c)

	require.NoError(t, conn.Send(Request{Op: OpSetSlot, Slot: 2, Value: 7}))
	require.NoError(t, conn.Send(Request{Op: OpSubscribe, MinLevel: "high"}))
	for range 2 {
		var resp Response
		require.NoError(t, conn.Recv(&resp))
		require.NotNil(t, resp.Record)
		assert.Equal(t, "network_anomaly", resp.Record.Type)
	}
	require.NoError(t, conn.Close())

	assert.Equal(t, Request{Op: OpSetSlot, Slot: 2, Value: 7}, <-got)
	assert.Equal(t, Request{Op: OpSubscribe, MinLevel: "high"}, <-got)
}
