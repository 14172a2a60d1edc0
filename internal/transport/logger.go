package transport

import (
	"context"
	"log/slog"
	"time"
)

func transportLogger(name string, attrs ...any) *slog.Logger {
	logger := slog.With("component", "transport", "transport", name)
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(attrs...)
}

// deadlineFor returns the context deadline, or the zero time which clears
// socket deadlines.
func deadlineFor(ctx context.Context) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}
	return time.Time{}
}
