package setup

import (
	"log/slog"
	"os"

	"github.com/mikhailv/proxy-dns/internal/log"
)

// Logger builds the process logger: text output on stdout behind the prefix
// handler, optionally wrapped (the history recorder hooks in through wrap).
func Logger(debug bool, wrap func(slog.Handler) slog.Handler) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := log.NewPrefixHandler(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	if wrap != nil {
		handler = wrap(handler)
	}
	return slog.New(handler)
}
