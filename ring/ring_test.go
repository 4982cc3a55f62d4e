package ring

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferCapacity(t *testing.T) {
	b := New[int](4)

	assert.True(t, b.Push(1))
	assert.True(t, b.Push(2))
	assert.True(t, b.Push(3))
	assert.False(t, b.Push(4), "a buffer of 4 slots holds 3 items")
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 3, b.Cap())

	v, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	assert.True(t, b.Push(4))

	var got []int
	for v := range b.All() {
		got = append(got, v)
	}
	assert.Equal(t, []int{2, 3, 4}, got)
}

func TestBufferEmpty(t *testing.T) {
	b := New[string](2)

	_, ok := b.Pop()
	assert.False(t, ok)

	require.True(t, b.Push("a"))
	assert.False(t, b.Push("b"))

	v, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok = b.Pop()
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())
}

func TestBufferWrapAround(t *testing.T) {
	b := New[int](3)
	for i := range 100 {
		require.True(t, b.Push(i))
		v, ok := b.Pop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

func TestBufferClear(t *testing.T) {
	b := New[int](8)
	for i := range 5 {
		b.Push(i)
	}
	b.Clear()
	assert.Equal(t, 0, b.Len())
	_, ok := b.Pop()
	assert.False(t, ok)
	assert.True(t, b.Push(42))
}

func TestBufferAllStopsEarly(t *testing.T) {
	b := New[int](8)
	for i := range 5 {
		b.Push(i)
	}
	for v := range b.All() {
		if v == 1 {
			break
		}
	}
	v, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestNewPanicsOnTinySize(t *testing.T) {
	assert.Panics(t, func() { New[int](1) })
	assert.Panics(t, func() { New[int](0) })
}

func TestBufferConcurrent(t *testing.T) {
	const size = 8
	const numItems = 1_000_000

	b := New[int](size)

	var wg sync.WaitGroup
	wg.Add(1)

	var (
		got      = make([]int, 0, numItems)
		overfull bool
	)
	go func() {
		defer wg.Done()
		for len(got) < numItems {
			if b.Len() > size-1 {
				overfull = true
			}
			v, ok := b.Pop()
			if !ok {
				runtime.Gosched()
				continue
			}
			got = append(got, v)
		}
	}()

	var pushes, failures int
	for n := 0; n < numItems; {
		if b.Push(n) {
			pushes++
			n++
			continue
		}
		failures++
		runtime.Gosched()
	}
	wg.Wait()

	require.Len(t, got, numItems)
	assert.Equal(t, numItems, pushes)
	assert.False(t, overfull, "queued items exceeded usable capacity")

	prev := -1
	for _, v := range got {
		if want := prev + 1; want != v {
			t.Fatalf("discontinuous value: want %v, got %v", want, v)
		}
		prev = v
	}
	t.Logf("producer saw a full buffer %d times", failures)
}
