package services

import (
	"context"

	"skillhub/backend/internal/logging"
)

// bestEffort runs a side effect whose failure must not fail the caller. The
// error is logged and dropped.
func bestEffort(ctx context.Context, logger *logging.Logger, op string, fn func(context.Context) error, attrs ...any) {
	if err := fn(ctx); err != nil {
		logger.WarnContext(ctx, "best-effort operation failed", append([]any{"op", op, "error", err}, attrs...)...)
	}
}
