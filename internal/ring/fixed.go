// ABOUTME: Lock-free fixed-capacity SPSC ring buffer
// ABOUTME: Backs the device timing hand-off and the latency graph sink
package ring

import "sync/atomic"

// Fixed is a lock-free single-producer/single-consumer ring buffer of fixed
// capacity (rounded up to the next power of two). The write and read cursors
// are kept on separate cache lines to avoid false sharing between the
// producer and consumer goroutines, mirroring the alignment the device and
// source threads need in the playback hot path.
type Fixed[T any] struct {
	writePos atomic.Uint64
	_        [56]byte
	readPos  atomic.Uint64
	_        [56]byte

	buf  []T
	mask uint64
}

// NewFixed creates a ring buffer able to hold at least minCapacity elements.
func NewFixed[T any](minCapacity int) *Fixed[T] {
	size := 1
	for size < minCapacity {
		size <<= 1
	}
	return &Fixed[T]{
		buf:  make([]T, size),
		mask: uint64(size - 1),
	}
}

// Append copies up to len(src) elements into the buffer, non-blocking.
// Returns the number actually appended; the caller must handle a short
// write by dropping the remainder (the ring never blocks the producer).
// Only the producer goroutine may call this.
func (f *Fixed[T]) Append(src []T) int {
	w := f.writePos.Load()
	r := f.readPos.Load()

	free := uint64(len(f.buf)) - (w - r)
	n := uint64(len(src))
	if n > free {
		n = free
	}
	if n == 0 {
		return 0
	}

	for i := uint64(0); i < n; i++ {
		f.buf[(w+i)&f.mask] = src[i]
	}

	f.writePos.Store(w + n)
	return int(n)
}

// Push appends a single element, overwriting the oldest element if the
// buffer is full. Used by the latency graph sink, which has no true
// concurrent consumer draining it — only occasional non-destructive reads
// via Snapshot.
func (f *Fixed[T]) Push(v T) {
	w := f.writePos.Load()
	r := f.readPos.Load()

	if w-r >= uint64(len(f.buf)) {
		f.readPos.Store(r + 1)
	}

	f.buf[w&f.mask] = v
	f.writePos.Store(w + 1)
}

// Consume copies up to len(dst) elements out of the buffer and advances the
// read cursor. Returns the number of elements copied; 0 if empty. Only the
// consumer goroutine may call this.
func (f *Fixed[T]) Consume(dst []T) int {
	r := f.readPos.Load()
	w := f.writePos.Load()

	available := w - r
	n := uint64(len(dst))
	if n > available {
		n = available
	}
	if n == 0 {
		return 0
	}

	for i := uint64(0); i < n; i++ {
		dst[i] = f.buf[(r+i)&f.mask]
	}

	f.readPos.Store(r + n)
	return int(n)
}

// Count returns the number of live elements.
func (f *Fixed[T]) Count() int {
	return int(f.writePos.Load() - f.readPos.Load())
}

// Snapshot returns a non-destructive copy of the live elements in order,
// oldest first. Intended for a graph/UI consumer reading alongside a real
// consumer goroutine; it may race with concurrent Append/Push/Consume calls
// and return a slightly stale view, which is acceptable for display.
func (f *Fixed[T]) Snapshot() []T {
	r := f.readPos.Load()
	w := f.writePos.Load()
	n := w - r
	out := make([]T, n)
	for i := uint64(0); i < n; i++ {
		out[i] = f.buf[(r+i)&f.mask]
	}
	return out
}
