package utils

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var sizeRe = regexp.MustCompile(`^(0|[1-9][0-9]*) ?([KMGTPE]i?)?B?$`)

// Byte multiplier per size suffix. "Ki" is binary, "K" is decimal.
var sizeUnits = map[string]int64{
	"":   1,
	"K":  1000,
	"M":  1000 * 1000,
	"G":  1000 * 1000 * 1000,
	"T":  1000 * 1000 * 1000 * 1000,
	"P":  1000 * 1000 * 1000 * 1000 * 1000,
	"E":  1000 * 1000 * 1000 * 1000 * 1000 * 1000,
	"Ki": 1 << 10,
	"Mi": 1 << 20,
	"Gi": 1 << 30,
	"Ti": 1 << 40,
	"Pi": 1 << 50,
	"Ei": 1 << 60,
}

// Parse a size such as "512", "64Mi", "10 MB" or "1GiB" into bytes.
func ParseSize(size string) (int64, error) {
	parts := sizeRe.FindStringSubmatch(strings.TrimSpace(size))
	if parts == nil {
		return 0, fmt.Errorf("%w: invalid size %q", ErrParse, size)
	}

	value, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid size %q", ErrParse, size)
	}

	unit := sizeUnits[parts[2]]
	if value > math.MaxInt64/unit {
		return 0, fmt.Errorf("%w: size %q overflows", ErrParse, size)
	}
	return value * unit, nil
}

var humanUnits = []struct {
	unit   string
	format string
}{
	{"B", "%.0f%s"},
	{"KiB", "%.0f%s"},
	{"MiB", "%.1f%s"},
	{"GiB", "%.2f%s"},
	{"TiB", "%.2f%s"},
	{"PiB", "%.2f%s"},
	{"EiB", "%.2f%s"},
}

// Format a byte count with a binary unit, e.g. "64.0MiB".
func HumanByteSize(byteSize int64) string {
	size := float64(byteSize)
	index := 0
	for size >= 1024 && index < len(humanUnits)-1 {
		size /= 1024
		index++
	}
	return fmt.Sprintf(humanUnits[index].format, size, humanUnits[index].unit)
}
