//go:build !linux

package ipc

import (
	"errors"
	"net"
)

var errPeerUnsupported = errors.New("peer credentials are only available on linux")

func PeerOf(conn *net.UnixConn) (Peer, error) {
	_ = conn
	return Peer{}, errPeerUnsupported
}
