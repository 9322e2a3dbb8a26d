package stream

import (
	"fmt"
	"strconv"
)

// Cursor orders stream entries: the upper 32 bits carry a millisecond
// timestamp, the lower 32 bits a per-stream sequence number.
type Cursor uint64

type CursorAware interface {
	SetCursor(cursor Cursor)
}

func (c Cursor) String() string {
	return fmt.Sprintf("%016x", uint64(c))
}

func (c Cursor) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Cursor) UnmarshalText(b []byte) error {
	cur, err := ParseCursor(string(b))
	if err == nil {
		*c = cur
	}
	return err
}

func ParseCursor(s string) (Cursor, error) {
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, err
	}
	return Cursor(n), nil
}
