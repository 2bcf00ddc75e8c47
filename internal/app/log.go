package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"vaultedge/internal/safebox"
)

// LogFileName is the application log under the configured log_dir.
const LogFileName = "vaultedge.log"

// lineHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<opID>\t<message>\t<key=value ...>
type lineHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Leveler
	opID  string
	attrs []slog.Attr
}

func newLineHandler(w io.Writer, opID string, level slog.Leveler) *lineHandler {
	return &lineHandler{mu: &sync.Mutex{}, w: w, level: level, opID: opID}
}

func (h *lineHandler) Enabled(_ context.Context, l slog.Level) bool {
	if h.level == nil {
		return true
	}
	return l >= h.level.Level()
}

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")

	// Build the whole line first; engine goroutines log concurrently.
	line := fmt.Sprintf("%s\t%s\t%s\t%s", ts, r.Level.String(), h.opID, r.Message)
	for _, a := range h.attrs {
		line += fmt.Sprintf("\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		line += fmt.Sprintf("\t%s=%v", a.Key, a.Value)
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.w, line)
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &lineHandler{
		mu:    h.mu,
		w:     h.w,
		level: h.level,
		opID:  h.opID,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *lineHandler) WithGroup(string) slog.Handler { return h }

// newLogger creates a structured logger that writes every record to
// logDir/vaultedge.log and records at Warn or above to stderr.
// It returns the slog.Logger, the open log file (for cleanup), and any error.
func newLogger(logDir string, opID string) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, LogFileName)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	handler := &fanoutHandler{handlers: []slog.Handler{
		newLineHandler(f, opID, nil),
		newLineHandler(os.Stderr, opID, slog.LevelWarn),
	}}
	return slog.New(handler), f, nil
}

// fanoutHandler sends each record to every handler that accepts its level.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, c := range h.handlers {
		if c.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, c := range h.handlers {
		if !c.Enabled(ctx, r.Level) {
			continue
		}
		if err := c.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, c := range h.handlers {
		out[i] = c.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: out}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, c := range h.handlers {
		out[i] = c.WithGroup(name)
	}
	return &fanoutHandler{handlers: out}
}

// slogAdapter wraps *slog.Logger to satisfy the safebox.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

var _ safebox.Logger = (*slogAdapter)(nil)

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
