package instance

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/denisbrodbeck/machineid"
	"github.com/terrama2/services/pkg/utils"
)

// Properties describing the host running the service.
type Host map[string]string

// Host properties like the architecture, operating system, number of cpus,
// a unique machine id and the hostname.
func NewHost() Host {
	h := Host{
		"node.arch": runtime.GOARCH,
		"node.os":   runtime.GOOS,
		"node.cpus": fmt.Sprint(runtime.NumCPU()),
	}
	if id, err := machineid.ProtectedID("terrama2-service"); err == nil {
		h["node.id"] = id
	}
	if hostname, err := os.Hostname(); err == nil {
		h["node.hostname"] = hostname
	}
	return h
}

// Add labels given as "key=value" strings.
func (h Host) AddLabels(labels []string) error {
	for _, label := range labels {
		key, value, ok := strings.Cut(label, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return fmt.Errorf("%w: invalid label %q", utils.ErrBadRequest, label)
		}
		h[strings.TrimSpace(key)] = value
	}
	return nil
}

func (h Host) String() string {
	keys := make([]string, 0, len(h))
	for key := range h {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&b, "%s=%s\n", key, h[key])
	}
	return b.String()
}
