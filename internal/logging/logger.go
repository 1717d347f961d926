// Package logging provides category-keyed structured logging for metriclens.
// Each subsystem logs under its own category so a single run can be filtered
// down to, say, only the tool-connection traffic. Until Initialize is called
// every logger is a nop, which keeps tests and library embedders silent.
package logging

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup, config, shutdown
	CategoryConfig     Category = "config"     // Config load and hot reload
	CategoryPerception Category = "perception" // Text -> QuerySpec extraction
	CategoryTools      Category = "tools"      // Tool connection and invocations
	CategoryResolve    Category = "resolve"    // Operation resolution and refinement
	CategoryReport     Category = "report"     // Composite report fan-out and reduction
	CategoryPipeline   Category = "pipeline"   // Request handling end to end
	CategoryStore      Category = "store"      // Activity log persistence
)

var (
	mu      sync.RWMutex
	root    *zap.Logger
	loggers = make(map[Category]*zap.SugaredLogger)
)

// Options controls logger construction.
type Options struct {
	Level string // debug, info, warn, error (default info)
	Path  string // log file path; empty means stderr
	JSON  bool   // JSON encoding instead of console
}

// Initialize builds the root zap logger. Safe to call once at startup;
// callers that never initialize get nop loggers.
func Initialize(opts Options) error {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.Set(opts.Level); err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if opts.JSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	sink := zapcore.Lock(os.Stderr)
	if opts.Path != "" {
		f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		sink = zapcore.Lock(f)
	}

	mu.Lock()
	defer mu.Unlock()
	root = zap.New(zapcore.NewCore(enc, sink, level))
	loggers = make(map[Category]*zap.SugaredLogger)
	return nil
}

// Get returns the logger for a category, creating it on first use.
// Returns a nop logger before Initialize.
func Get(category Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	r := root
	mu.RUnlock()

	if r == nil {
		return zap.NewNop().Sugar()
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := root.Named(string(category)).Sugar()
	loggers[category] = l
	return l
}

// Sync flushes buffered log entries. Call at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}
