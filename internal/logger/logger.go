// Package logger wires slog to a size-rotated log file. Every write is
// mirrored to stdout so foreground runs stay observable.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/havij13/Hexstrike-AI-sub001/internal/config"
)

const (
	logFilePrefix = "hexstriked_"
	logFileSuffix = ".log"

	defaultMaxFileSizeMB = 10
	defaultMaxFiles      = 5
)

// RotatingLogWriter is an io.Writer that rotates its backing file once
// it exceeds the configured size and prunes the oldest files beyond
// MaxLogFiles.
type RotatingLogWriter struct {
	mu      sync.Mutex
	dir     string
	maxSize int64 // bytes
	maxKeep int
	file    *os.File
	written int64
	path    string
}

func NewRotatingLogWriter(cfg config.DaemonConfig) (*RotatingLogWriter, error) {
	if cfg.LogCaptureDir == "" {
		return nil, fmt.Errorf("LogCaptureDir must be specified in daemon config for rotating logs")
	}
	if err := os.MkdirAll(cfg.LogCaptureDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log capture directory: %w", err)
	}

	maxSizeMB := cfg.MaxLogFileSizeMB
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxFileSizeMB
	}
	maxKeep := cfg.MaxLogFiles
	if maxKeep <= 0 {
		maxKeep = defaultMaxFiles
	}

	w := &RotatingLogWriter{
		dir:     cfg.LogCaptureDir,
		maxSize: int64(maxSizeMB) * 1024 * 1024,
		maxKeep: maxKeep,
	}
	if err := w.rotate(); err != nil {
		return nil, fmt.Errorf("failed to create initial log file: %w", err)
	}
	return w, nil
}

// Write appends to the current file, rotating first when the write
// would push it past the size limit. Output is mirrored to stdout.
func (w *RotatingLogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, _ = os.Stdout.Write(p)

	if w.file != nil && w.written+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log file: %w", err)
		}
	}
	if w.file == nil {
		return 0, fmt.Errorf("no log file open for writing")
	}

	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

// CurrentLogPath returns the active log file path.
func (w *RotatingLogWriter) CurrentLogPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// rotate opens a fresh timestamped file and prunes old ones. Caller
// holds the lock.
func (w *RotatingLogWriter) rotate() error {
	if w.file != nil {
		w.file.Close()
	}

	name := logFilePrefix + time.Now().Format("20060102_150405") + logFileSuffix
	path := filepath.Join(w.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	w.file = f
	w.path = path
	w.written = 0
	w.prune()
	return nil
}

// prune removes the oldest log files beyond the retention count. The
// timestamped names sort chronologically.
func (w *RotatingLogWriter) prune() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		slog.Error("Failed to read log directory for cleanup", "error", err, "dir", w.dir)
		return
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), logFilePrefix) && strings.HasSuffix(e.Name(), logFileSuffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for len(names) > w.maxKeep {
		victim := filepath.Join(w.dir, names[0])
		if err := os.Remove(victim); err != nil {
			slog.Error("Failed to remove old log file", "error", err, "file", victim)
		}
		names = names[1:]
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger builds the daemon's slog.Logger backed by a rotating
// file. It returns the logger, the writer, and the active file path.
func SetupLogger(cfg config.DaemonConfig) (*slog.Logger, *RotatingLogWriter, string, error) {
	if cfg.LogCaptureDir == "" {
		cfg.LogCaptureDir = filepath.Join(os.TempDir(), "hexstriked_logs")
	}

	writer, err := NewRotatingLogWriter(cfg)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to create rotating log writer: %w", err)
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	})
	return slog.New(handler), writer, writer.CurrentLogPath(), nil
}
