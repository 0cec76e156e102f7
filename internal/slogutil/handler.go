// Package slogutil provides the slog handler and level helpers used across tangle.
package slogutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// scope is the attribute state shared by the tangle handlers: attributes
// bound with With, already flattened to dotted keys, and the open groups.
type scope struct {
	attrs  []slog.Attr
	groups []string
}

func (s scope) withAttrs(attrs []slog.Attr) scope {
	prefix := strings.Join(s.groups, ".")
	out := make([]slog.Attr, len(s.attrs), len(s.attrs)+len(attrs))
	copy(out, s.attrs)
	for _, a := range attrs {
		a.Value = a.Value.Resolve()
		out = append(out, flatten(prefix, a)...)
	}
	return scope{attrs: out, groups: s.groups}
}

func (s scope) withGroup(name string) scope {
	groups := make([]string, len(s.groups)+1)
	copy(groups, s.groups)
	groups[len(s.groups)] = name
	return scope{attrs: s.attrs, groups: groups}
}

// writePairs appends " key=value" for the bound attributes and then the
// record's, and reports whether it wrote any.
func (s scope) writePairs(buf *bytes.Buffer, r slog.Record) bool {
	wrote := false
	write := func(a slog.Attr) {
		if a.Key == "" {
			return
		}
		buf.WriteByte(' ')
		buf.WriteString(a.Key)
		buf.WriteByte('=')
		buf.WriteString(formatValue(a.Value))
		wrote = true
	}
	for _, a := range s.attrs {
		write(a)
	}
	prefix := strings.Join(s.groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		a.Value = a.Value.Resolve()
		for _, fa := range flatten(prefix, a) {
			write(fa)
		}
		return true
	})
	return wrote
}

// LineHandler writes one line per record:
// TIMESTAMP [level] Message | key=value key=value
// Group keys are joined with dots (graph.nodes=4).
type LineHandler struct {
	w     io.Writer
	level slog.Leveler
	scope scope
	mu    *sync.Mutex
}

// NewLineHandler creates a line-oriented log handler.
func NewLineHandler(w io.Writer, opts *slog.HandlerOptions) *LineHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &LineHandler{w: w, level: level, mu: &sync.Mutex{}}
}

func (h *LineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *LineHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	buf.WriteString(r.Time.UTC().Format(time.RFC3339))
	buf.WriteString(" [")
	buf.WriteString(levelString(r.Level))
	buf.WriteString("] ")
	buf.WriteString(r.Message)

	var pairs bytes.Buffer
	if h.scope.writePairs(&pairs, r) {
		buf.WriteString(" |")
		buf.Write(pairs.Bytes())
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *LineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LineHandler{w: h.w, level: h.level, scope: h.scope.withAttrs(attrs), mu: h.mu}
}

func (h *LineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &LineHandler{w: h.w, level: h.level, scope: h.scope.withGroup(name), mu: h.mu}
}

// flatten joins group keys with dots. Empty-key attributes are dropped and
// empty-key groups are inlined, as slog.Handler requires.
func flatten(prefix string, a slog.Attr) []slog.Attr {
	if a.Key == "" && a.Value.Kind() != slog.KindGroup {
		return nil
	}
	key := a.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	} else if key == "" {
		key = prefix
	}
	if a.Value.Kind() != slog.KindGroup {
		return []slog.Attr{{Key: key, Value: a.Value}}
	}
	var out []slog.Attr
	for _, ga := range a.Value.Group() {
		ga.Value = ga.Value.Resolve()
		out = append(out, flatten(key, ga)...)
	}
	return out
}

func levelString(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	case level < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}

func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if s == "" || strings.ContainsAny(s, " \t\n\"=") {
			return strconv.Quote(s)
		}
		return s
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'g', 6, 64)
	default:
		if err, ok := v.Any().(error); ok {
			return strconv.Quote(err.Error())
		}
		return fmt.Sprint(v.Any())
	}
}
