package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// sbakHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<tag>\t<message>\t<key=value ...>
//
// tag identifies one process invocation; every line it writes carries
// the same tag. The engine logs from concurrent host and transfer
// goroutines, so each record is rendered into a buffer and written in
// a single call under a mutex shared by all clones of the handler.
type sbakHandler struct {
	w     io.Writer
	mu    *sync.Mutex
	tag   string
	attrs []slog.Attr
}

func (h *sbakHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *sbakHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")
	level := r.Level.String()

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\t%s\t%s\t%s", ts, level, h.tag, r.Message)

	// Pre-set attrs first, then per-record attrs.
	for _, a := range h.attrs {
		fmt.Fprintf(&buf, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&buf, "\t%s=%v", a.Key, a.Value)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *sbakHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sbakHandler{
		w:     h.w,
		mu:    h.mu,
		tag:   h.tag,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *sbakHandler) WithGroup(string) slog.Handler { return h }

// newLogger creates a structured logger that writes to both logDir/sbak.log and stderr.
// It returns the slog.Logger, the open log file (for cleanup), and any error.
func newLogger(logDir string, tag string) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "sbak.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	w := io.MultiWriter(f, os.Stderr)
	handler := &sbakHandler{w: w, mu: &sync.Mutex{}, tag: tag}
	return slog.New(handler), f, nil
}

// slogAdapter wraps *slog.Logger to satisfy the engine.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
