package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/erazemk/boxanizer/internal/config"
)

// levelRouter keeps errors on stderr and everything else on stdout.
type levelRouter struct {
	min    slog.Leveler
	out    slog.Handler
	errors slog.Handler
}

func (lr *levelRouter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= lr.min.Level()
}

func (lr *levelRouter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return lr.errors.Handle(ctx, r)
	}
	return lr.out.Handle(ctx, r)
}

func (lr *levelRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRouter{min: lr.min, out: lr.out.WithAttrs(attrs), errors: lr.errors.WithAttrs(attrs)}
}

func (lr *levelRouter) WithGroup(name string) slog.Handler {
	return &levelRouter{min: lr.min, out: lr.out.WithGroup(name), errors: lr.errors.WithGroup(name)}
}

// newLogHandler builds the handler for cfg writing to stdout and stderr.
func newLogHandler(cfg config.LogConfig, stdout, stderr io.Writer) (slog.Handler, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	handler := func(w io.Writer) slog.Handler { return slog.NewTextHandler(w, opts) }
	if cfg.Format == "json" {
		handler = func(w io.Writer) slog.Handler { return slog.NewJSONHandler(w, opts) }
	}
	return &levelRouter{min: level, out: handler(stdout), errors: handler(stderr)}, nil
}

// setupLogger installs the default logger. With cfg.File set, every record is
// appended to that file as well. The returned function closes it.
func setupLogger(cfg config.LogConfig) (func(), error) {
	stdout, stderr := io.Writer(os.Stdout), io.Writer(os.Stderr)
	closeFile := func() {}

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		closeFile = func() { f.Close() }
		stdout, stderr = io.MultiWriter(stdout, f), io.MultiWriter(stderr, f)
	}

	h, err := newLogHandler(cfg, stdout, stderr)
	if err != nil {
		closeFile()
		return nil, err
	}
	slog.SetDefault(slog.New(h))
	return closeFile, nil
}
