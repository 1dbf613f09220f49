package httpserver

import (
	"context"
	"log/slog"
)

type noopHandler struct{}

func (n noopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (n noopHandler) Handle(context.Context, slog.Record) error { return nil }
func (n noopHandler) WithAttrs([]slog.Attr) slog.Handler        { return n }
func (n noopHandler) WithGroup(string) slog.Handler             { return n }

func newNoopLogger() *slog.Logger { return slog.New(noopHandler{}) }
