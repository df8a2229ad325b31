// Package pipeline holds the streaming buffers that sit between the host's
// arbitrary-length sample batches and the fixed-block correlator.
package pipeline

import (
	"sync"
)

const bufferGrowthFactor = 2

// RingBuffer implements a circular buffer for complex baseband samples.
// It carries the tail of a batch that does not fill a whole decimation block
// into the next call.
type RingBuffer struct {
	data     []complex64
	capacity int
	size     int
	readPos  int
	writePos int
	mu       sync.Mutex
}

// NewRingBuffer creates a new ring buffer with the specified capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}

	return &RingBuffer{
		data:     make([]complex64, capacity),
		capacity: capacity,
	}
}

// Write adds samples to the buffer.
// If the buffer doesn't have enough space, it will grow automatically.
func (b *RingBuffer) Write(samples []complex64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	needed := len(samples)
	if needed == 0 {
		return
	}

	if b.size+needed > b.capacity {
		b.grow(b.size + needed)
	}

	// First segment up to the physical end, then wrap.
	n := copy(b.data[b.writePos:], samples)
	if n < needed {
		copy(b.data, samples[n:])
	}
	b.writePos = (b.writePos + needed) % b.capacity
	b.size += needed
}

// ReadInto moves up to len(dst) samples into dst and returns the count.
func (b *RingBuffer) ReadInto(dst []complex64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.peek(dst)
	b.readPos = (b.readPos + n) % b.capacity
	b.size -= n
	return n
}

// peek copies from the read position without consuming. Caller holds mu.
func (b *RingBuffer) peek(dst []complex64) int {
	n := min(len(dst), b.size)
	if n == 0 {
		return 0
	}
	c := copy(dst[:n], b.data[b.readPos:])
	if c < n {
		copy(dst[c:n], b.data)
	}
	return n
}

// Available returns the number of samples available for reading.
func (b *RingBuffer) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Capacity returns the current buffer capacity.
func (b *RingBuffer) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Clear removes all samples from the buffer.
func (b *RingBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.size = 0
	b.readPos = 0
	b.writePos = 0
}

// grow increases the buffer capacity to at least the specified size.
func (b *RingBuffer) grow(minCapacity int) {
	newCapacity := b.capacity
	for newCapacity < minCapacity {
		newCapacity *= bufferGrowthFactor
	}

	newData := make([]complex64, newCapacity)
	b.peek(newData)

	b.data = newData
	b.capacity = newCapacity
	b.readPos = 0
	b.writePos = b.size
}
