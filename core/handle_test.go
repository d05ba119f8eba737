package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_InsertTake(t *testing.T) {
	r := NewRegistry[string]()

	a := r.Insert("a")
	b := r.Insert("b")
	assert.NotEqual(t, NoHandle, a)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, r.Len())

	v, err := r.Get(a)
	require.NoError(t, err)
	assert.Equal(t, "a", v)
	assert.Equal(t, 2, r.Len())

	v, err = r.Take(a)
	require.NoError(t, err)
	assert.Equal(t, "a", v)
	assert.Equal(t, 1, r.Len())

	_, err = r.Take(a)
	assert.ErrorIs(t, err, ErrStaleHandle)
	_, err = r.Get(a)
	assert.ErrorIs(t, err, ErrStaleHandle)
}

func TestRegistry_ReusedSlotRejectsOldHandle(t *testing.T) {
	r := NewRegistry[int]()

	old := r.Insert(1)
	_, err := r.Take(old)
	require.NoError(t, err)

	fresh := r.Insert(2)
	idx, _, _ := fresh.split()
	oldIdx, _, _ := old.split()
	require.Equal(t, oldIdx, idx, "slot should be reused")
	assert.NotEqual(t, old, fresh)

	_, err = r.Take(old)
	assert.ErrorIs(t, err, ErrStaleHandle)

	v, err := r.Take(fresh)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestRegistry_UnknownHandles(t *testing.T) {
	r := NewRegistry[int]()
	r.Insert(1)

	for _, h := range []Handle{NoHandle, makeHandle(5, 0), makeHandle(0, 1)} {
		_, err := r.Get(h)
		assert.ErrorIs(t, err, ErrStaleHandle, "handle %x", uint64(h))
	}
}

func TestRegistry_Drain(t *testing.T) {
	r := NewRegistry[int]()
	hs := []Handle{r.Insert(1), r.Insert(2), r.Insert(3)}
	_, err := r.Take(hs[1])
	require.NoError(t, err)

	assert.ElementsMatch(t, []int{1, 3}, r.Drain())
	assert.Zero(t, r.Len())
	for _, h := range hs {
		_, err := r.Get(h)
		assert.ErrorIs(t, err, ErrStaleHandle)
	}
	assert.Empty(t, r.Drain())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry[int]()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				h := r.Insert(g*1000 + i)
				v, err := r.Take(h)
				if !assert.NoError(t, err) || !assert.Equal(t, g*1000+i, v) {
					return
				}
			}
		}(g)
	}
	wg.Wait()
	assert.Zero(t, r.Len())
}
