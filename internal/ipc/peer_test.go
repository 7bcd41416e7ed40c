package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPeerMayControl(t *testing.T) {
	assert.True(t, Peer{UID: 0}.MayControl(1000))
	assert.True(t, Peer{UID: 1000}.MayControl(1000))
	assert.False(t, Peer{UID: 1001}.MayControl(1000))
}
