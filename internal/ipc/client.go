package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/melonattacker/bmon/internal/event"
)

const (
	DefaultSockPath = "/run/bmon.sock"
	sockEnv         = "BMON_SOCK"

	dialTimeout = 2 * time.Second
	callTimeout = 10 * time.Second
)

// SockPath returns $BMON_SOCK or the default control socket.
func SockPath() string {
	if v := strings.TrimSpace(os.Getenv(sockEnv)); v != "" {
		return v
	}
	return DefaultSockPath
}

// Client issues control requests to bmond. The daemon serves one request
// per connection; use a fresh Client per call.
type Client struct {
	conn *Conn
}

func Dial(ctx context.Context) (*Client, error) {
	return DialPath(ctx, SockPath())
}

func DialPath(ctx context.Context, path string) (*Client, error) {
	d := net.Dialer{Timeout: dialTimeout}
	c, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return &Client{conn: NewConn(c.(*net.UnixConn))}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) call(ctx context.Context, req Request) (Response, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(callTimeout)
	}
	_ = c.conn.SetDeadline(deadline)

	var resp Response
	if err := c.conn.Send(req); err != nil {
		return resp, fmt.Errorf("send %s: %w", req.Op, err)
	}
	if err := c.conn.Recv(&resp); err != nil {
		return resp, fmt.Errorf("read %s response: %w", req.Op, err)
	}
	return resp, resp.Err()
}

func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	resp, err := c.call(ctx, Request{Op: OpStatus})
	if err != nil {
		return StatusResponse{}, err
	}
	if resp.Status == nil {
		return StatusResponse{}, errors.New("status response without body")
	}
	return *resp.Status, nil
}

func (c *Client) SetSlot(ctx context.Context, slot int, v uint64) error {
	_, err := c.call(ctx, Request{Op: OpSetSlot, Slot: slot, Value: v})
	return err
}

func (c *Client) GetSlots(ctx context.Context) ([]uint64, error) {
	resp, err := c.call(ctx, Request{Op: OpGetSlots})
	return resp.Slots, err
}

// Subscribe streams records to fn once the daemon acknowledges the
// subscription. It returns nil when ctx is done or the daemon closes the
// stream, and fn's error if fn fails.
func (c *Client) Subscribe(ctx context.Context, minLevel string, fn func(event.Record) error) error {
	if _, err := c.call(ctx, Request{Op: OpSubscribe, MinLevel: minLevel}); err != nil {
		return err
	}
	_ = c.conn.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		var resp Response
		if err := c.conn.Recv(&resp); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := resp.Err(); err != nil {
			return err
		}
		if resp.Record == nil {
			continue
		}
		if err := fn(*resp.Record); err != nil {
			return err
		}
	}
}
