package rcu

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// retireLog counts how many times each object was retired.
type retireLog[T any] struct {
	mu    sync.Mutex
	count map[*T]int
}

func newRetireLog[T any]() *retireLog[T] {
	return &retireLog[T]{count: make(map[*T]int)}
}

func (r *retireLog[T]) retire(v *T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count[v]++
}

func (r *retireLog[T]) times(v *T) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count[v]
}

func intPtr(v int) *int { return &v }

func TestSwapPublishes(t *testing.T) {
	s := New(intPtr(0))

	require.True(t, s.Swap(intPtr(1)))

	s.Read(func(v *int) {
		assert.Equal(t, 1, *v)
	})
	assert.Equal(t, uint64(1), s.Generation())
	assert.True(t, s.Changed())
	assert.False(t, s.Changed(), "Changed clears the flag")
	assert.False(t, s.Draining())
}

func TestSequentialSwapsRetireEachGeneration(t *testing.T) {
	log := newRetireLog[int]()
	first, second, third := intPtr(0), intPtr(1), intPtr(2)
	s := New(first, WithRetire(log.retire))

	require.True(t, s.Swap(second))
	require.True(t, s.Swap(third))

	assert.Equal(t, 1, log.times(first))
	assert.Equal(t, 1, log.times(second))
	assert.Equal(t, 0, log.times(third), "the published object is never retired")

	l := s.Lock()
	assert.Same(t, third, s.Get())
	assert.Same(t, third, s.GetMutable())
	l.Unlock()
}

func TestSwapWaitsForReaders(t *testing.T) {
	log := newRetireLog[int]()
	old := intPtr(0)
	s := New(old, WithRetire(log.retire))

	l := s.Lock()
	seen := l.Get()
	require.Same(t, old, seen)

	done := make(chan bool, 1)
	go func() {
		done <- s.Swap(intPtr(1))
	}()

	require.Eventually(t, s.Draining, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("swap returned while a read section was active")
	case <-time.After(50 * time.Millisecond):
	}

	// A second swap while the first one drains is rejected and its candidate
	// retired by the snapshot.
	rejected := intPtr(2)
	assert.False(t, s.Swap(rejected))
	assert.Equal(t, 1, log.times(rejected))

	// The reader keeps a valid, unretired object.
	assert.Equal(t, 0, *seen)
	assert.Equal(t, 0, log.times(old))

	l.Unlock()

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("swap did not complete after the reader left")
	}
	assert.Equal(t, 1, log.times(old))
	assert.False(t, s.Draining())

	s.Read(func(v *int) {
		assert.Equal(t, 1, *v)
	})
}

func TestGetOutsideReadSectionPanics(t *testing.T) {
	s := New(intPtr(0))
	assert.Panics(t, func() { s.Get() })
	assert.Panics(t, func() { s.GetMutable() })

	l := s.Lock()
	assert.NotPanics(t, func() { s.Get() })
	l.Unlock()
	assert.Equal(t, int64(0), s.Readers())
}

func TestSwapNilPanics(t *testing.T) {
	s := New(intPtr(0))
	assert.Panics(t, func() { s.Swap(nil) })
	assert.Panics(t, func() { New[int](nil) })
}

type notes struct {
	pitches []int
}

func TestCloneWithDeepCopy(t *testing.T) {
	s := New(&notes{pitches: []int{60, 64}}, WithClone(func(n *notes) *notes {
		return &notes{pitches: append([]int(nil), n.pitches...)}
	}))

	next := s.Clone()
	next.pitches[0] = 61
	next.pitches = append(next.pitches, 67)

	s.Read(func(n *notes) {
		assert.Equal(t, []int{60, 64}, n.pitches)
	})

	require.True(t, s.Swap(next))
	s.Read(func(n *notes) {
		assert.Equal(t, []int{61, 64, 67}, n.pitches)
	})
}

type swapObserver struct {
	rejected atomic.Int64
	drained  atomic.Int64
}

func (o *swapObserver) SwapRejected()             { o.rejected.Add(1) }
func (o *swapObserver) SwapDrained(time.Duration) { o.drained.Add(1) }

func TestObserver(t *testing.T) {
	obs := &swapObserver{}
	s := New(intPtr(0), WithObserver[int](obs))

	require.True(t, s.Swap(intPtr(1)))
	assert.Equal(t, int64(1), obs.drained.Load())
	assert.Equal(t, int64(0), obs.rejected.Load())
}

// pair is consistent when b == -a. Retired pairs are poisoned so a reader
// holding a reclaimed generation would notice.
type pair struct {
	a, b int
	dead int32
}

func TestConcurrentReadersNeverSeeRetired(t *testing.T) {
	const numReaders = 4
	const numSwaps = 2000

	s := New(&pair{}, WithRetire(func(p *pair) {
		atomic.StoreInt32(&p.dead, 1)
		p.a, p.b = 1, 1
	}))

	var (
		stop   atomic.Bool
		wg     sync.WaitGroup
		broken atomic.Int64
	)
	for range numReaders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				l := s.Lock()
				p := l.Get()
				if atomic.LoadInt32(&p.dead) != 0 || p.b != -p.a {
					broken.Add(1)
				}
				l.Unlock()
			}
		}()
	}

	for i := 1; i <= numSwaps; i++ {
		require.True(t, s.Swap(&pair{a: i, b: -i}))
	}
	stop.Store(true)
	wg.Wait()

	assert.Equal(t, int64(0), broken.Load())
	assert.Equal(t, uint64(numSwaps), s.Generation())
	s.Read(func(p *pair) {
		assert.Equal(t, numSwaps, p.a)
	})
}
