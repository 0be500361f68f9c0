// Package errutil holds helpers for oops errors shared by the binaries and tests.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level. oops errors contribute their code and context.
func LogError(ctx context.Context, logger *slog.Logger, msg string, err error) {
	attrs := []any{"error", err.Error()}
	if oe, ok := oops.AsOops(err); ok {
		if code := oe.Code(); code != nil {
			attrs = append(attrs, "code", code)
		}
		if kv := oe.Context(); len(kv) > 0 {
			attrs = append(attrs, "context", kv)
		}
	}
	logger.ErrorContext(ctx, msg, attrs...)
}

// Code returns the oops code of err, or "" when it has none.
func Code(err error) string {
	oe, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oe.Code().(string)
	return code
}
