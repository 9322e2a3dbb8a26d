package util

import "iter"

// RingBuf is a fixed-capacity buffer that overwrites its oldest element
// once full.
type RingBuf[T any] struct {
	start int
	size  int
	buf   []T
}

func NewRingBuf[T any](capacity int) *RingBuf[T] {
	return &RingBuf[T]{
		buf: make([]T, max(1, capacity)),
	}
}

func (s *RingBuf[T]) Add(item T) {
	capacity := cap(s.buf)
	pos := (s.start + s.size) % capacity
	if s.size == capacity {
		s.start = (s.start + 1) % capacity
	} else {
		s.size++
	}
	s.buf[pos] = item
}

func (s *RingBuf[T]) Get(i int) T {
	return s.buf[(s.start+i)%cap(s.buf)]
}

func (s *RingBuf[T]) Size() int {
	return s.size
}

// Iterator walks the buffer from index `from`, oldest first; a negative
// step walks backwards.
func (s *RingBuf[T]) Iterator(from, step int) iter.Seq[T] {
	if step == 0 {
		step = 1
	}
	return func(yield func(T) bool) {
		capacity := cap(s.buf)
		for i := from; i >= 0 && i < s.size; i += step {
			if !yield(s.buf[(s.start+i)%capacity]) {
				break
			}
		}
	}
}
