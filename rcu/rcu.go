// Package rcu publishes versions of a shared object with read-copy-update:
// readers never block and never observe a partially updated object, while a
// single writer swaps in new versions and reclaims the old ones once the
// readers that could still see them have left.
//
// Usage from the reader side (e.g. an audio callback):
//
//	l := snap.Lock()
//	m := l.Get()
//	... // brief, non-blocking work on m
//	l.Unlock()
//
// and from the writer side:
//
//	next := snap.Clone()
//	next.Volume = 0.5
//	if !snap.Swap(next) {
//		// previous generation still draining, retry later
//	}
package rcu

import (
	"runtime"
	"sync/atomic"
	"time"
)

// Observer receives swap statistics. Implementations must be safe for
// concurrent use.
type Observer interface {
	SwapRejected()
	SwapDrained(wait time.Duration)
}

type nopObserver struct{}

func (nopObserver) SwapRejected()             {}
func (nopObserver) SwapDrained(time.Duration) {}

// Snapshot owns every generation of an object of type T.
type Snapshot[T any] struct {
	curr    atomic.Pointer[T]
	prev    atomic.Pointer[T]
	readers atomic.Int64
	changed atomic.Bool
	gen     atomic.Uint64

	clone    func(*T) *T
	retire   func(*T)
	observer Observer
}

// Option configures a Snapshot.
type Option[T any] func(*Snapshot[T])

// WithClone sets the function Clone uses to copy the current object. The
// default is a shallow copy, which is wrong for objects holding slices or
// maps that the writer intends to modify.
func WithClone[T any](f func(*T) *T) Option[T] {
	return func(s *Snapshot[T]) { s.clone = f }
}

// WithRetire sets a function called exactly once for every object the
// snapshot gives up: retired generations and rejected swap candidates.
func WithRetire[T any](f func(*T)) Option[T] {
	return func(s *Snapshot[T]) { s.retire = f }
}

// WithObserver reports swap statistics to o.
func WithObserver[T any](o Observer) Option[T] {
	return func(s *Snapshot[T]) { s.observer = o }
}

// New returns a snapshot publishing initial. It panics if initial is nil.
func New[T any](initial *T, opts ...Option[T]) *Snapshot[T] {
	if initial == nil {
		panic("rcu: nil initial object")
	}
	s := &Snapshot[T]{
		clone: func(v *T) *T {
			c := *v
			return &c
		},
		retire:   func(*T) {},
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.curr.Store(initial)
	return s
}

// Lock is an active read section. The zero value is not usable; obtain one
// from Snapshot.Lock and release it exactly once with Unlock.
type Lock[T any] struct {
	s *Snapshot[T]
}

// Lock enters a read section. Read sections must be short and must not
// block: a concurrent Swap spins until every read section has ended.
func (s *Snapshot[T]) Lock() Lock[T] {
	s.readers.Add(1)
	return Lock[T]{s: s}
}

// Unlock leaves the read section.
func (l Lock[T]) Unlock() {
	l.s.readers.Add(-1)
}

// Get returns the published object. The pointer is valid until Unlock.
func (l Lock[T]) Get() *T {
	return l.s.curr.Load()
}

// Read calls f with the published object inside a read section.
func (s *Snapshot[T]) Read(f func(*T)) {
	l := s.Lock()
	defer l.Unlock()
	f(l.Get())
}

// Get returns the published object for reading. It must be called inside a
// read section and the object must be treated as immutable.
func (s *Snapshot[T]) Get() *T {
	s.mustBeLocked()
	return s.curr.Load()
}

// GetMutable returns the published object for in-place changes that are
// safe to race with readers, such as atomic fields. It must be called inside
// a read section.
func (s *Snapshot[T]) GetMutable() *T {
	s.mustBeLocked()
	return s.curr.Load()
}

func (s *Snapshot[T]) mustBeLocked() {
	if s.readers.Load() <= 0 {
		panic("rcu: read outside of a read section")
	}
}

// Clone returns a private copy of the published object for the writer to
// modify before passing it to Swap. Call it from the writer goroutine.
func (s *Snapshot[T]) Clone() *T {
	return s.clone(s.curr.Load())
}

// Swap publishes candidate as the new generation, waits for the read
// sections that may still see the old one and retires it. Only one goroutine
// may call Swap at a time.
//
// If the previous generation is still draining, Swap retires candidate and
// returns false without touching the published object; the caller should
// retry later with a fresh clone.
func (s *Snapshot[T]) Swap(candidate *T) bool {
	if candidate == nil {
		panic("rcu: nil candidate")
	}
	old := s.curr.Load()
	if !s.prev.CompareAndSwap(nil, old) {
		s.reject(candidate)
		return false
	}
	// A stale old means another writer completed a swap in between.
	if !s.curr.CompareAndSwap(old, candidate) {
		s.prev.Store(nil)
		s.reject(candidate)
		return false
	}

	start := time.Now()
	for s.readers.Load() > 0 {
		runtime.Gosched()
	}
	s.observer.SwapDrained(time.Since(start))

	s.retire(old)
	s.prev.Store(nil)
	s.gen.Add(1)
	s.changed.Store(true)
	return true
}

func (s *Snapshot[T]) reject(candidate *T) {
	s.retire(candidate)
	s.observer.SwapRejected()
}

// Draining reports whether a swap is waiting for readers of the previous
// generation.
func (s *Snapshot[T]) Draining() bool {
	return s.prev.Load() != nil
}

// Changed reports whether a generation was published since the last call
// and clears the flag.
func (s *Snapshot[T]) Changed() bool {
	return s.changed.Swap(false)
}

// Generation returns the number of successful swaps.
func (s *Snapshot[T]) Generation() uint64 {
	return s.gen.Load()
}

// Readers returns the number of active read sections.
func (s *Snapshot[T]) Readers() int64 {
	return s.readers.Load()
}
