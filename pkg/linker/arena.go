package linker

// Arena is a slice-backed bump allocator for values that need a stable
// address for the lifetime of one link: Symbols are owned by a per-link
// arena and released in bulk when the link returns. Go's garbage
// collector makes explicit freeing unnecessary, but the arena still
// buys a useful invariant: every pointer handed out stays valid for the
// whole link and nothing outlives it by construction — callers only
// ever see *T obtained from New, never a raw T they could accidentally
// copy.
type Arena[T any] struct {
	items []*T
}

func NewArena[T any]() *Arena[T] {
	return &Arena[T]{}
}

// New allocates a fresh, zero-valued T and returns a stable pointer to it.
func (a *Arena[T]) New() *T {
	v := new(T)
	a.items = append(a.items, v)
	return v
}

// Len reports how many values have been allocated so far.
func (a *Arena[T]) Len() int {
	return len(a.items)
}
