// Package ring implements a fixed-capacity lock-free FIFO for exactly one
// producer and one consumer.
package ring

import (
	"iter"
	"math"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Buffer is a single-producer/single-consumer queue backed by n slots, of
// which n-1 are usable. Push and Pop run in constant time, never allocate
// and never block, which makes them safe to call from an audio callback.
//
// Thread assignment:
//   - Push: producer goroutine only
//   - Pop, All, Clear: consumer goroutine only
//   - Len, Cap: either side
type Buffer[T any] struct {
	// head is the next index to pop. Written by the consumer only.
	head atomic.Uint32
	_    cpu.CacheLinePad

	// tail is the next free index. Written by the producer only.
	tail atomic.Uint32
	_    cpu.CacheLinePad

	slots []T
}

// New returns a buffer with n slots. It panics if n < 2.
func New[T any](n int) *Buffer[T] {
	if n < 2 || uint64(n) > math.MaxUint32 {
		panic("ring: size must be in [2, MaxUint32]")
	}
	return &Buffer[T]{slots: make([]T, n)}
}

func (b *Buffer[T]) next(i uint32) uint32 {
	i++
	if i == uint32(len(b.slots)) {
		return 0
	}
	return i
}

// Push appends item. It returns false, leaving the buffer untouched, when the
// buffer is full.
func (b *Buffer[T]) Push(item T) bool {
	tail := b.tail.Load()
	next := b.next(tail)
	if next == b.head.Load() {
		return false
	}
	b.slots[tail] = item
	b.tail.Store(next)
	return true
}

// Pop removes the oldest item. The second result is false when the buffer is
// empty.
func (b *Buffer[T]) Pop() (T, bool) {
	head := b.head.Load()
	if head == b.tail.Load() {
		var zero T
		return zero, false
	}
	item := b.slots[head]
	b.head.Store(b.next(head))
	return item, true
}

// All pops items until the buffer is empty. Items pushed while iterating may
// or may not be yielded.
func (b *Buffer[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			item, ok := b.Pop()
			if !ok || !yield(item) {
				return
			}
		}
	}
}

// Clear discards every item currently visible to the consumer.
func (b *Buffer[T]) Clear() {
	b.head.Store(b.tail.Load())
}

// Len returns the number of queued items. The value is a snapshot and may be
// stale by the time it is used.
func (b *Buffer[T]) Len() int {
	n := len(b.slots)
	return (int(b.tail.Load()) - int(b.head.Load()) + n) % n
}

// Cap returns the number of usable slots.
func (b *Buffer[T]) Cap() int {
	return len(b.slots) - 1
}
