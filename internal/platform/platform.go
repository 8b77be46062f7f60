// Package platform provides the OS-specific Platform implementations
// (darwin, windows, linux) behind the domain.Platform interface: focus
// capture/restore, paste-chord/keystroke synthesis, and the global
// hotkey hook.
package platform

import (
	"fmt"
	"runtime"

	"github.com/hammamikhairi/wisprd/internal/domain"
	"github.com/hammamikhairi/wisprd/internal/logger"
)

// New returns the Platform implementation for the running OS.
func New(log *logger.Logger) (domain.Platform, error) {
	switch runtime.GOOS {
	case "darwin":
		return newDarwinPlatform(log)
	case "windows":
		return newWindowsPlatform(log)
	case "linux":
		return newLinuxPlatform(log)
	default:
		return nil, fmt.Errorf("platform: unsupported OS %q", runtime.GOOS)
	}
}
