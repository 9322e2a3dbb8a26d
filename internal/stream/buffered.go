package stream

import (
	"cmp"
	"sort"
	"sync"
	"time"

	"github.com/mikhailv/proxy-dns/internal/util"
)

var _ Stream[string] = (*Buffered[string])(nil)

// Buffered keeps the last N appended values in a ring buffer and lets
// consumers page through them by cursor or subscribe to new ones.
type Buffered[T any] struct {
	mu           sync.RWMutex
	buf          *util.RingBuf[streamEntry[T]]
	index        uint32
	listeners    map[uint16]func(cursor Cursor, val T)
	nextListener uint16
}

type streamEntry[T any] struct {
	Cursor Cursor
	Val    T
}

type QueryResult[T any] struct {
	Items      []T    `json:"items"`
	LastCursor Cursor `json:"lastCursor"`
	HasMore    bool   `json:"hasMore"`
}

func NewBufferedStream[T any](bufferSize int) *Buffered[T] {
	return &Buffered[T]{
		buf:       util.NewRingBuf[streamEntry[T]](bufferSize),
		listeners: map[uint16]func(cursor Cursor, val T){},
	}
}

func (s *Buffered[T]) Append(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursor := Cursor(uint64(time.Now().UnixMilli())<<32 | uint64(s.index))
	s.index++
	if c, ok := any(&value).(CursorAware); ok {
		c.SetCursor(cursor)
	}
	s.buf.Add(streamEntry[T]{cursor, value})
	for _, listener := range s.listeners {
		listener(cursor, value)
	}
}

// Last returns the cursor of the most recent entry, or 0 when empty.
func (s *Buffered[T]) Last() Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.buf.Size() == 0 {
		return 0
	}
	return s.buf.Get(s.buf.Size() - 1).Cursor
}

// Query returns up to count entries strictly after the given cursor,
// oldest first, optionally filtered by predicate.
func (s *Buffered[T]) Query(after Cursor, count int, predicate func(val T) bool) QueryResult[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, found := sort.Find(s.buf.Size(), func(i int) int {
		return cmp.Compare(after, s.buf.Get(i).Cursor)
	})
	if found {
		pos++
	}

	res := QueryResult[T]{LastCursor: after}
	for it := range s.buf.Iterator(pos, 1) {
		if predicate != nil && !predicate(it.Val) {
			continue
		}
		if len(res.Items) >= count {
			res.HasMore = true
			break
		}
		res.Items = append(res.Items, it.Val)
		res.LastCursor = it.Cursor
	}
	return res
}

func (s *Buffered[T]) Listen(listener func(cursor Cursor, val T)) (stop func()) {
	s.mu.Lock()
	listenerKey := s.nextListener
	s.nextListener++
	s.listeners[listenerKey] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, listenerKey)
		s.mu.Unlock()
	}
}
