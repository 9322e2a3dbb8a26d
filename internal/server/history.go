package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mikhailv/proxy-dns/internal/log"
	"github.com/mikhailv/proxy-dns/internal/stream"
	"github.com/mikhailv/proxy-dns/internal/types"
)

const (
	defaultPageSize = 50

	// Appends arriving in a burst are coalesced into one websocket frame.
	tailFlushDelay = 500 * time.Millisecond
	tailBatchSize  = 500
)

// filterFunc decides whether an entry is part of the requested view;
// nil means unfiltered.
type filterFunc[T any] func(T) bool

type filterParser[T any] func(q url.Values) filterFunc[T]

// registerHistoryAPI mounts the paged list endpoint and its /ws live tail.
func registerHistoryAPI[T any](mux *http.ServeMux, path string, st *stream.Buffered[T], logger *slog.Logger, parseFilter filterParser[T]) {
	mux.Handle("GET "+path, listHandler(st, parseFilter))
	mux.Handle("GET "+path+"/ws", tailHandler(st, logger, parseFilter))
}

type historyPage[T any] struct {
	Items  []T           `json:"items"`
	Cursor stream.Cursor `json:"cursor"`
	More   bool          `json:"more,omitempty"`
	Next   string        `json:"next,omitempty"`
}

func listHandler[T any](st *stream.Buffered[T], parseFilter filterParser[T]) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		after, _ := stream.ParseCursor(q.Get("after"))

		res := st.Query(after, intParam(q, "count", defaultPageSize), parseFilter(q))

		page := historyPage[T]{
			Items:  res.Items,
			Cursor: res.LastCursor,
			More:   res.HasMore,
		}
		if page.Items == nil {
			page.Items = []T{}
		}
		if res.HasMore {
			page.Next = pageURL(req.URL, res.LastCursor)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(page)
	})
}

func tailHandler[T any](st *stream.Buffered[T], logger *slog.Logger, parseFilter filterParser[T]) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		filter := parseFilter(req.URL.Query())

		conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			logger.Error("websocket accept failed", "err", err)
			return
		}
		defer func() { _ = conn.CloseNow() }()

		ctx := conn.CloseRead(req.Context())
		logger.Debug("websocket client connected", "client", req.RemoteAddr)

		wake := make(chan struct{}, 1)
		stop := st.Listen(func(stream.Cursor, T) {
			select {
			case wake <- struct{}{}:
			default:
			}
		})
		defer stop()

		cursor := st.Last()
		for {
			select {
			case <-ctx.Done():
				logger.Debug("websocket client gone", "err", ctx.Err())
				return
			case <-wake:
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(tailFlushDelay):
			}

			for {
				page := st.Query(cursor, tailBatchSize, filter)
				if len(page.Items) == 0 {
					break
				}
				if err := wsjson.Write(ctx, conn, page.Items); err != nil {
					logger.Error("websocket write failed", "err", err, "cursor", cursor)
					return
				}
				cursor = page.LastCursor
				if !page.HasMore {
					break
				}
			}
		}
	})
}

func logFilter(q url.Values) filterFunc[log.Entry] {
	var preds []filterFunc[log.Entry]
	if levels := splitParam(q, "level"); len(levels) > 0 {
		allowed := make(map[string]bool, len(levels))
		for _, level := range levels {
			allowed[strings.ToUpper(level)] = true
		}
		preds = append(preds, func(v log.Entry) bool { return allowed[v.Level] })
	}
	return allOf(preds)
}

func queryFilter(q url.Values) filterFunc[types.DNSQuery] {
	var preds []filterFunc[types.DNSQuery]
	if domain := strings.TrimSpace(q.Get("domain")); domain != "" {
		preds = append(preds, func(v types.DNSQuery) bool { return v.Domain == domain })
	}
	if search := strings.TrimSpace(q.Get("search")); search != "" {
		preds = append(preds, func(v types.DNSQuery) bool { return strings.Contains(v.Domain, search) })
	}
	if rcode := strings.TrimSpace(q.Get("rcode")); rcode != "" {
		preds = append(preds, func(v types.DNSQuery) bool { return v.Rcode == rcode })
	}
	return allOf(preds)
}

func rawQueryFilter(q url.Values) filterFunc[types.DNSRawQuery] {
	var preds []filterFunc[types.DNSRawQuery]
	if boolParam(q, "responses") {
		preds = append(preds, func(v types.DNSRawQuery) bool { return v.Response })
	}
	if search := strings.TrimSpace(q.Get("search")); search != "" {
		preds = append(preds, func(v types.DNSRawQuery) bool { return strings.Contains(v.Text, search) })
	}
	return allOf(preds)
}

func allOf[T any](preds []filterFunc[T]) filterFunc[T] {
	if len(preds) == 0 {
		return nil
	}
	return func(v T) bool {
		for _, pred := range preds {
			if !pred(v) {
				return false
			}
		}
		return true
	}
}

func intParam(q url.Values, name string, fallback int) int {
	if v, err := strconv.Atoi(q.Get(name)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func boolParam(q url.Values, name string) bool {
	switch strings.ToLower(q.Get(name)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func splitParam(q url.Values, name string) []string {
	var vals []string
	for _, v := range strings.Split(q.Get(name), ",") {
		if v = strings.TrimSpace(v); v != "" {
			vals = append(vals, v)
		}
	}
	return vals
}

func pageURL(u *url.URL, after stream.Cursor) string {
	next := *u
	q := next.Query()
	q.Set("after", after.String())
	next.RawQuery = q.Encode()
	return next.String()
}
