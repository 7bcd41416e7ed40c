package ipc

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/melonattacker/bmon/collector/common"
	"github.com/melonattacker/bmon/internal/analyzer"
	"github.com/melonattacker/bmon/internal/event"
)

// The control protocol is newline-delimited JSON over a unix socket. A
// client sends one Request and reads one Response. A subscribe request is
// acknowledged the same way and then followed by one Response per record
// until either side hangs up.

type Op string

const (
	OpStatus    Op = "status"
	OpGetSlots  Op = "get_slots"
	OpSetSlot   Op = "set_slot"
	OpSubscribe Op = "subscribe"
)

type Request struct {
	Op Op `json:"op"`

	// set_slot; slot 0 is the external verdict.
	Slot  int    `json:"slot,omitempty"`
	Value uint64 `json:"value,omitempty"`

	// subscribe
	MinLevel string `json:"min_level,omitempty"`
}

type Response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	Status *StatusResponse `json:"status,omitempty"`
	Slots  []uint64        `json:"slots,omitempty"`
	Record *event.Record   `json:"record,omitempty"`
}

type StatusResponse struct {
	PID int `json:"pid"`
	UID int `json:"uid"`
	GID int `json:"gid"`

	Version   string `json:"version,omitempty"`
	Kernel    string `json:"kernel,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	StartTS   int64  `json:"start_ts"`

	Slots       []uint64       `json:"slots"`
	Collector   common.Stats   `json:"collector"`
	Analyzer    analyzer.Stats `json:"analyzer"`
	Subscribers int            `json:"subscribers"`
	Broadcast   uint64         `json:"broadcast_dropped"`
}

// RemoteError is a failure reported by the daemon.
type RemoteError struct{ Msg string }

func (e *RemoteError) Error() string { return "bmond: " + e.Msg }

func Errorf(format string, args ...any) Response {
	return Response{Error: fmt.Sprintf(format, args...)}
}

func (r Response) Err() error {
	if r.OK {
		return nil
	}
	if r.Error == "" {
		return &RemoteError{Msg: "request failed"}
	}
	return &RemoteError{Msg: r.Error}
}

// Conn frames JSON values on a unix connection. The embedded connection
// carries deadlines and Close.
type Conn struct {
	*net.UnixConn
	enc *json.Encoder
	dec *json.Decoder
}

func NewConn(c *net.UnixConn) *Conn {
	return &Conn{UnixConn: c, enc: json.NewEncoder(c), dec: json.NewDecoder(c)}
}

// Send writes v followed by a newline.
func (c *Conn) Send(v any) error { return c.enc.Encode(v) }

func (c *Conn) Recv(v any) error { return c.dec.Decode(v) }
