package handler

type slabEntry[T any] struct {
	v     T
	index int // -1 if occupied, else the next free index
}

// slab is a free list of handlers. Indices stay valid until popped.
type slab[T any] struct {
	entries []slabEntry[T]
	free    int
	len     int
}

func (s *slab[T]) Put(v T) int {
	s.len++

	if s.free == len(s.entries) {
		s.entries = append(s.entries, slabEntry[T]{v, -1})
		s.free++
		return len(s.entries) - 1
	}

	i := s.free
	s.free = s.entries[i].index
	s.entries[i] = slabEntry[T]{v, -1}

	return i
}

func (s *slab[T]) Pop(i int) T {
	popped := s.entries[i].v

	var z T
	s.entries[i] = slabEntry[T]{z, s.free}
	s.free = i
	s.len--

	return popped
}

func (s *slab[T]) All(f func(T)) {
	for _, entry := range s.entries {
		if entry.index == -1 {
			f(entry.v)
		}
	}
}

func (s *slab[T]) Len() int {
	return s.len
}
