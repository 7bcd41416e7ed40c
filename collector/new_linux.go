//go:build linux

package collector

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/melonattacker/bmon/collector/emulated"
	linuxcollector "github.com/melonattacker/bmon/collector/linux"
)

// New returns the backend named by cfg.Backend. An empty name selects the
// kernel backend.
func New(cfg Config, logger *zap.Logger) (Backend, error) {
	switch cfg.Backend {
	case "", BackendKernel:
		return linuxcollector.NewBackend(cfg, logger), nil
	case BackendEmulated:
		return emulated.New(cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
