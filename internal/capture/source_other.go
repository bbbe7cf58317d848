//go:build !linux

package capture

import (
	"fmt"

	"firestige.xyz/convo/internal/core"
)

// OpenLive needs AF_PACKET, which only exists on Linux.
func OpenLive(cfg LiveConfig) (Source, error) {
	return nil, fmt.Errorf("live capture on %s: %w", cfg.Device, core.ErrUnsupportedProto)
}
