// Copyright (c) 2023 The Burn Relayer Network developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package log

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
)

// Logger is the leveled key-value logger used across the repo.
type Logger = *slog.Logger

// swapHandler delegates to an atomically swappable slog.Handler, so that
// package-level loggers created before the handler is configured still pick
// up the final configuration.
//
// The handler is boxed in a fixed concrete type; atomic.Value requires every
// stored value to have the same dynamic type.
type swapHandler struct {
	handler atomic.Value // handlerBox
}

type handlerBox struct {
	slog.Handler
}

func (h *swapHandler) get() slog.Handler {
	return h.handler.Load().(handlerBox).Handler
}

func (h *swapHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.get().Enabled(ctx, level)
}

func (h *swapHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.get().Handle(ctx, r)
}

func (h *swapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.get().WithAttrs(attrs)
}

func (h *swapHandler) WithGroup(name string) slog.Handler {
	return h.get().WithGroup(name)
}

var root = &swapHandler{}

func init() {
	root.handler.Store(handlerBox{discardHandler{}})
}

// Root returns the root logger.
func Root() Logger {
	return slog.New(root)
}

// WithContext returns a logger carrying the given key-value context.
// The conventional first pair is ("pkg", "<package name>").
func WithContext(kv ...any) Logger {
	return Root().With(kv...)
}

// SetHandler replaces the handler behind all loggers obtained from this package.
func SetHandler(h slog.Handler) {
	root.handler.Store(handlerBox{h})
}

// NewTextHandler creates a human readable handler writing to w, filtered by level.
func NewTextHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}

// NewJSONHandler creates a machine readable handler writing to w, filtered by level.
func NewJSONHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// VerbosityToLevel maps a 0..4 verbosity flag to a slog level.
// 3 is the conventional default, logging info and above.
func VerbosityToLevel(verbosity int) slog.Level {
	switch {
	case verbosity <= 1:
		return slog.LevelError
	case verbosity == 2:
		return slog.LevelWarn
	case verbosity == 3:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// discardHandler drops all records. It is the default until SetHandler is called.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
