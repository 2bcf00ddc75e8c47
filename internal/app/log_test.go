package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLineHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		opID    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			opID:    "op-123",
			level:   slog.LevelInfo,
			message: "safebox created",
			want:    "2024-06-15T14:30:45Z\tINFO\top-123\tsafebox created\n",
		},
		{
			name:    "debug level",
			opID:    "op-456",
			level:   slog.LevelDebug,
			message: "retrying delete",
			want:    "2024-06-15T14:30:45Z\tDEBUG\top-456\tretrying delete\n",
		},
		{
			name:    "with record attrs",
			opID:    "op-789",
			level:   slog.LevelInfo,
			message: "upload stored",
			attrs:   []slog.Attr{slog.String("path", "docs/file.txt"), slog.Int("size", 42)},
			want:    "2024-06-15T14:30:45Z\tINFO\top-789\tupload stored\tpath=docs/file.txt\tsize=42\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := newLineHandler(&buf, tt.opID, nil)

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestLineHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := newLineHandler(&buf, "op-1", nil)

	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "migration")}).(*lineHandler)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := slog.NewRecord(ts, slog.LevelInfo, "moved", 0)
	r.AddAttrs(slog.String("safebox", "Docs"))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "component=migration") {
		t.Errorf("expected pre-set attr component=migration, got: %q", got)
	}
	if !strings.Contains(got, "safebox=Docs") {
		t.Errorf("expected record attr safebox=Docs, got: %q", got)
	}
}

func TestLineHandler_WithAttrs_doesNotMutateOriginal(t *testing.T) {
	var buf bytes.Buffer
	h := newLineHandler(&buf, "op-1", nil)
	h.attrs = []slog.Attr{slog.String("a", "1")}

	h2 := h.WithAttrs([]slog.Attr{slog.String("b", "2")}).(*lineHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}
	if len(h2.attrs) != 2 {
		t.Errorf("new handler attrs: got %d, want 2", len(h2.attrs))
	}
}

func TestLineHandler_Enabled(t *testing.T) {
	all := newLineHandler(&bytes.Buffer{}, "", nil)
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if !all.Enabled(context.Background(), level) {
			t.Errorf("Enabled(%v) = false, want true", level)
		}
	}

	warn := newLineHandler(&bytes.Buffer{}, "", slog.LevelWarn)
	if warn.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Enabled(INFO) = true for a warn handler, want false")
	}
	if !warn.Enabled(context.Background(), slog.LevelError) {
		t.Error("Enabled(ERROR) = false for a warn handler, want true")
	}
}

func TestFanoutHandler_RespectsLevels(t *testing.T) {
	var all, warn bytes.Buffer
	logger := slog.New(&fanoutHandler{handlers: []slog.Handler{
		newLineHandler(&all, "op", nil),
		newLineHandler(&warn, "op", slog.LevelWarn),
	}})

	logger.Info("quiet")
	logger.Warn("loud", "safebox", "Docs")

	if got := strings.Count(all.String(), "\n"); got != 2 {
		t.Errorf("full log has %d lines, want 2: %q", got, all.String())
	}
	if strings.Contains(warn.String(), "quiet") {
		t.Errorf("warn log contains info record: %q", warn.String())
	}
	if !strings.Contains(warn.String(), "loud\tsafebox=Docs") {
		t.Errorf("warn log missing warn record: %q", warn.String())
	}
}

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")

	logger, f, err := newLogger(dir, "test-op")
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	logger.Info("hello", "k", "v")

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "\tINFO\ttest-op\thello\tk=v\n") {
		t.Errorf("log file = %q, want the info record", string(data))
	}
}
