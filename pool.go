package asyncmqtt

import (
	"sync"
)

const (
	// maxPooledBufferSize caps the capacity of buffers returned to a pool.
	maxPooledBufferSize = 65536

	// readBufferSize is the size of one transport read.
	readBufferSize = 4096
)

// Buffer pools for reducing allocations in hot paths.
var (
	// packetBufferPool for frame encoding
	packetBufferPool = sync.Pool{
		New: func() any {
			return newPacketBuffer(256)
		},
	}

	// readBufferPool for transport reads
	readBufferPool = sync.Pool{
		New: func() any {
			b := make([]byte, readBufferSize)
			return &b
		},
	}
)

// getPacketBuffer returns a pooled, empty packetBuffer.
func getPacketBuffer() *packetBuffer {
	b := packetBufferPool.Get().(*packetBuffer)
	b.reset()
	return b
}

// putPacketBuffer returns a packetBuffer to the pool.
func putPacketBuffer(b *packetBuffer) {
	if b == nil {
		return
	}
	// Only pool if capacity is reasonable (64KB)
	if cap(b.data) <= maxPooledBufferSize {
		b.reset()
		packetBufferPool.Put(b)
	}
}

// getReadBuffer returns a pooled read buffer of readBufferSize bytes.
func getReadBuffer() *[]byte {
	return readBufferPool.Get().(*[]byte)
}

// putReadBuffer returns a read buffer to the pool.
func putReadBuffer(b *[]byte) {
	if b == nil || cap(*b) != readBufferSize {
		return
	}
	*b = (*b)[:readBufferSize]
	readBufferPool.Put(b)
}
