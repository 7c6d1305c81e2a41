package common

import (
	"context"
	"log/slog"
)

// Degrade runs a best-effort sub-step and replaces any failure with the
// given fallback. The non-fatal contract of favicon fetching, tag
// generation and similar steps runs through here so it stays visible and
// testable instead of being buried in per-call recovery blocks.
func Degrade[T any](ctx context.Context, logger *slog.Logger, step string, fallback T, fn func(ctx context.Context) (T, error)) T {
	if logger == nil {
		logger = slog.Default()
	}
	v, err := fn(ctx)
	if err != nil {
		logger.Warn("substep degraded to default", "step", step, "error", err)
		return fallback
	}
	return v
}
