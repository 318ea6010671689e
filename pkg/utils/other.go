//go:build !linux

package utils

import "github.com/terrama2/services/pkg/log"

func DisableTHP() {
	log.Debug("Transparent huge pages are only controllable on linux")
}
