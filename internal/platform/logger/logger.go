package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. Text output keeps local
// development readable; production deployments can swap the handler here.
func New() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}
