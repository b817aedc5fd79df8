// Copyright Contributors to the Sykli project

// Package logging provides the engine's structured logger: a logr.Logger
// backed by zap, threaded through context.Context the same way the
// teacher threads controller-runtime's log.FromContext.
package logging

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

type ctxKey struct{}

// New builds the root logger. Set debug to true for development-mode
// encoding (console, stack traces on warn+); production builds use the
// JSON encoder.
func New(debug bool) (logr.Logger, error) {
	var zl *zap.Logger
	var err error
	if debug {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		return logr.Logger{}, err
	}
	return zapr.NewLogger(zl), nil
}

// Into returns a context carrying the given logger.
func Into(ctx context.Context, log logr.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext returns the logger stored in ctx, or the discard logger
// if none was set.
func FromContext(ctx context.Context) logr.Logger {
	if log, ok := ctx.Value(ctxKey{}).(logr.Logger); ok {
		return log
	}
	return logr.Discard()
}
