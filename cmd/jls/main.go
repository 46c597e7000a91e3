// Package main provides jls, read-only tooling over JSONL artifacts and
// their sidecar metadata: row counts, state/freshness snapshots, and record
// peeking.
package main

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func main() {
	workDir, err := os.Getwd()
	if err != nil {
		workDir = "."
	}

	level := slog.LevelWarn
	if os.Getenv("JLS_DEBUG") != "" {
		level = slog.LevelDebug
	}

	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:   level,
		NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
	}))

	os.Exit(run(os.Stdout, os.Stderr, logger, workDir, os.Environ(), os.Args[1:]))
}
