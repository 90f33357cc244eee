package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"podscript/pkg/config"
)

// Init sets up the default slog logger: a text handler writing to the
// configured log file, teed to stderr so the generated script on stdout
// stays clean. Returns a cleanup function that closes the log file.
func Init(cfg *config.LogConfig, hCfg *config.HistoryConfig) (func(), error) {
	rotate(cfg.Server.Path)
	if hCfg != nil && hCfg.LLM.Enabled {
		rotate(hCfg.LLM.Path)
	}

	level := parseLevel(cfg.Server.Level)

	if err := os.MkdirAll(filepath.Dir(cfg.Server.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	file, err := os.OpenFile(cfg.Server.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})

	// The console never drops below INFO even when the file is at DEBUG.
	consoleLevel := level
	if consoleLevel < slog.LevelInfo {
		consoleLevel = slog.LevelInfo
	}
	consoleHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: consoleLevel})

	slog.SetDefault(slog.New(&teeHandler{targets: []slog.Handler{fileHandler, consoleHandler}}))

	return func() { file.Close() }, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// teeHandler fans a record out to every target whose level admits it.
type teeHandler struct {
	targets []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.targets {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range t.targets {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(t.targets))
	for i, h := range t.targets {
		next[i] = h.WithAttrs(attrs)
	}
	return &teeHandler{targets: next}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(t.targets))
	for i, h := range t.targets {
		next[i] = h.WithGroup(name)
	}
	return &teeHandler{targets: next}
}

// rotate moves an existing log file to .old so each run starts fresh
// while keeping the previous run around.
func rotate(path string) {
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	if _, err := os.Stat(path); err == nil {
		old := path + ".old"
		_ = os.Remove(old)
		_ = os.Rename(path, old)
	}
}
