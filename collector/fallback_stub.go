//go:build !linux

package collector

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/melonattacker/bmon/collector/emulated"
)

// New returns the backend named by cfg.Backend. Only the emulated backend
// exists off linux, and an empty name selects it.
func New(cfg Config, logger *zap.Logger) (Backend, error) {
	switch cfg.Backend {
	case "", BackendEmulated:
		return emulated.New(cfg, logger), nil
	case BackendKernel:
		return nil, ErrLinuxOnly
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
