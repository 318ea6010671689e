//go:build linux

package utils

import (
	"github.com/terrama2/services/pkg/log"
	"golang.org/x/sys/unix"
)

// Disable transparent huge pages for this process.
func DisableTHP() {
	enabled, err := unix.PrctlRetInt(unix.PR_GET_THP_DISABLE, 0, 0, 0, 0)
	if err == nil && enabled == 1 {
		log.Debug("Transparent huge pages already disabled")
		return
	}

	if err := unix.Prctl(unix.PR_SET_THP_DISABLE, 1, 0, 0, 0); err != nil {
		log.Warn("Failed to disable transparent huge pages:", err)
		return
	}
	log.Info("Disabled transparent huge pages")
}
