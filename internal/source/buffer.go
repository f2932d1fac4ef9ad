package source

import (
	"sync"
)

// Buffer is a thread-safe FIFO that doubles its capacity when it reaches 70%
// full, up to maxCapacity. Once at maxCapacity, Send overwrites the oldest
// item and counts it as overwritten.
type Buffer[T any] struct {
	mu          sync.Mutex
	buf         []T
	head        int // read position
	tail        int // write position
	count       int
	capacity    int
	maxCapacity int
	closed      bool

	// Stats
	totalReceived int64
	totalSent     int64
	overwritten   int64
	resizeCount   int
}

// NewBuffer creates a buffer with the given initial and maximum capacity.
// A maxCapacity below initialCapacity is raised to initialCapacity.
func NewBuffer[T any](initialCapacity, maxCapacity int) *Buffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if maxCapacity < initialCapacity {
		maxCapacity = initialCapacity
	}
	return &Buffer[T]{
		buf:         make([]T, initialCapacity),
		capacity:    initialCapacity,
		maxCapacity: maxCapacity,
	}
}

// Send adds an item to the buffer. Returns false if the buffer is closed.
func (b *Buffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold && b.capacity < b.maxCapacity {
		b.grow()
	}

	if b.count == b.capacity {
		// Full at max capacity: drop the oldest.
		var zero T
		b.buf[b.head] = zero
		b.head = (b.head + 1) % b.capacity
		b.count--
		b.overwritten++
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.totalReceived++
	return true
}

// TryReceive removes and returns the oldest item without blocking.
func (b *Buffer[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}

	item := b.buf[b.head]
	var zero T
	b.buf[b.head] = zero // Clear reference for GC
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.totalSent++

	return item, true
}

// DrainTo removes up to max items (all if max <= 0) in FIFO order.
func (b *Buffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		result[i] = b.buf[b.head]
		b.buf[b.head] = zero
		b.head = (b.head + 1) % b.capacity
	}
	b.count -= n
	b.totalSent += int64(n)

	return result
}

// Close closes the buffer. After closing, Send returns false; remaining items
// can still be drained.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// Len returns the current number of items in the buffer.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns buffer statistics.
func (b *Buffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:         b.count,
		Capacity:      b.capacity,
		MaxCapacity:   b.maxCapacity,
		TotalReceived: b.totalReceived,
		TotalSent:     b.totalSent,
		Overwritten:   b.overwritten,
		ResizeCount:   b.resizeCount,
	}
}

// BufferStats contains buffer statistics.
type BufferStats struct {
	Count         int
	Capacity      int
	MaxCapacity   int
	TotalReceived int64
	TotalSent     int64
	Overwritten   int64
	ResizeCount   int
}

// grow doubles the capacity, capped at maxCapacity. Must be called with lock held.
func (b *Buffer[T]) grow() {
	newCapacity := b.capacity * 2
	if newCapacity > b.maxCapacity {
		newCapacity = b.maxCapacity
	}
	newBuf := make([]T, newCapacity)

	if b.count > 0 {
		if b.head < b.tail {
			copy(newBuf, b.buf[b.head:b.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(newBuf, b.buf[b.head:])
			copy(newBuf[n:], b.buf[:b.tail])
		}
	}

	b.buf = newBuf
	b.head = 0
	b.tail = b.count
	b.capacity = newCapacity
	b.resizeCount++
}
