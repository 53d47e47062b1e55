//go:build !linux

package engine

import (
	"fmt"
	"log/slog"
)

// NewUring fails: io_uring exists only on linux.
func NewUring(direct bool, align int, logger *slog.Logger) (Strategy, error) {
	return nil, fmt.Errorf("%w: %s engine requires linux", ErrInvalidParams, EngineName(EngineUring))
}
