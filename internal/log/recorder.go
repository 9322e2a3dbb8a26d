package log

import (
	"context"
	"log/slog"

	"github.com/mikhailv/proxy-dns/internal/stream"
)

var _ slog.Handler = (*Recorder)(nil)

// Recorder keeps recent log records in a buffered stream on the side, so the
// HTTP API can serve history and live tails without touching the log output.
type Recorder struct {
	next    slog.Handler
	entries *stream.Buffered[Entry]
}

func NewRecorder(next slog.Handler, historySize int) *Recorder {
	return &Recorder{
		next:    next,
		entries: stream.NewBufferedStream[Entry](historySize),
	}
}

func (r *Recorder) Stream() *stream.Buffered[Entry] {
	return r.entries
}

func (r *Recorder) Enabled(ctx context.Context, level slog.Level) bool {
	return r.next.Enabled(ctx, level)
}

func (r *Recorder) Handle(ctx context.Context, record slog.Record) error {
	err := r.next.Handle(ctx, record)
	r.entries.Append(NewEntry(record))
	return err
}

func (r *Recorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Recorder{next: r.next.WithAttrs(attrs), entries: r.entries}
}

func (r *Recorder) WithGroup(name string) slog.Handler {
	return &Recorder{next: r.next.WithGroup(name), entries: r.entries}
}
