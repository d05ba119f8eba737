package core

import "sync"

// Handle is an opaque token handed to an engine in place of an
// application-owned value. It encodes a slot index and the slot's
// generation, so a handle that was already removed can never resolve to a
// newer value stored in the same slot.
type Handle uint64

// NoHandle denotes an absent value. A Registry never issues it.
const NoHandle Handle = 0

func makeHandle(index, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index+1))
}

func (h Handle) split() (index, gen uint32, ok bool) {
	low := uint32(h)
	if low == 0 {
		return 0, 0, false
	}
	return low - 1, uint32(h >> 32), true
}

type slot[T any] struct {
	gen  uint32
	used bool
	val  T
}

// Registry is an arena of values addressed by Handle. It is safe for
// concurrent use.
type Registry[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
	live  int
}

// NewRegistry returns an empty Registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{}
}

// Insert stores v and returns the handle that addresses it.
func (r *Registry[T]) Insert(v T) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		idx = uint32(len(r.slots))
		r.slots = append(r.slots, slot[T]{})
	}
	s := &r.slots[idx]
	s.used = true
	s.val = v
	r.live++
	return makeHandle(idx, s.gen)
}

// Get returns the value addressed by h without removing it.
func (r *Registry[T]) Get(h Handle) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookup(h)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.val, nil
}

// Take removes and returns the value addressed by h. Taking the same handle
// twice returns ErrStaleHandle.
func (r *Registry[T]) Take(h Handle) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	s, err := r.lookup(h)
	if err != nil {
		return zero, err
	}
	v := s.val
	s.val = zero
	s.used = false
	s.gen++
	idx, _, _ := h.split()
	r.free = append(r.free, idx)
	r.live--
	return v, nil
}

// Len returns the number of live values.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// Drain removes and returns every live value.
func (r *Registry[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	out := make([]T, 0, r.live)
	for i := range r.slots {
		s := &r.slots[i]
		if !s.used {
			continue
		}
		out = append(out, s.val)
		s.val = zero
		s.used = false
		s.gen++
		r.free = append(r.free, uint32(i))
	}
	r.live = 0
	return out
}

func (r *Registry[T]) lookup(h Handle) (*slot[T], error) {
	idx, gen, ok := h.split()
	if !ok || int(idx) >= len(r.slots) {
		return nil, ErrStaleHandle
	}
	s := &r.slots[idx]
	if !s.used || s.gen != gen {
		return nil, ErrStaleHandle
	}
	return s, nil
}
