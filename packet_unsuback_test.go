package asyncmqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnsubackPacket(t *testing.T) {
	p := &UnsubackPacket{PacketID: 9}
	assert.Equal(t, PacketUNSUBACK, p.Type())
	assert.Equal(t, uint16(9), p.ID())
}
