package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxLevelWidth pads level names so messages line up
const maxLevelWidth = 5

// textHandler writes one human-readable line per record:
//
//	INFO  [illumination] light toggled enclosure=mk4-left manual=true
//
// Timestamps are left to the service manager.
type textHandler struct {
	w        io.Writer
	level    slog.Leveler
	timezone *time.Location
	attrs    []slog.Attr
	mu       *sync.Mutex
}

func newTextHandler(w io.Writer, level slog.Level, tz *time.Location) *textHandler {
	return &textHandler{w: w, level: level, timezone: tz, mu: &sync.Mutex{}}
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

//nolint:gocritic // slog.Handler interface requires record by value
func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder

	name := levelName(r.Level)
	sb.WriteString(name)
	sb.WriteString(strings.Repeat(" ", max(1, maxLevelWidth-len(name)+1)))

	var module string
	rest := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	collect := func(a slog.Attr) bool {
		if a.Key == moduleKey && module == "" {
			module = a.Value.String()
			return true
		}
		rest = append(rest, a)
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)

	if module != "" {
		sb.WriteString("[")
		sb.WriteString(module)
		sb.WriteString("] ")
	}
	sb.WriteString(r.Message)

	for _, a := range rest {
		writeAttr(&sb, a, h.timezone)
	}
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func writeAttr(sb *strings.Builder, a slog.Attr, tz *time.Location) {
	if a.Equal(slog.Attr{}) {
		return
	}
	sb.WriteByte(' ')
	sb.WriteString(a.Key)
	sb.WriteByte('=')

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if s == "" || strings.ContainsAny(s, " \t\"=") {
			s = strconv.Quote(s)
		}
		sb.WriteString(s)
	case slog.KindTime:
		sb.WriteString(v.Time().In(tz).Format(time.RFC3339))
	case slog.KindFloat64:
		sb.WriteString(strconv.FormatFloat(v.Float64(), 'f', -1, 64))
	default:
		fmt.Fprint(sb, v.Any())
	}
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &textHandler{
		w:        h.w,
		level:    h.level,
		timezone: h.timezone,
		attrs:    slices.Concat(h.attrs, attrs),
		mu:       h.mu,
	}
}

// WithGroup is unsupported; groups are flattened into the line.
func (h *textHandler) WithGroup(_ string) slog.Handler {
	return h
}
