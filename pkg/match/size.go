package match

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidSize is returned by ParseSize for malformed input.
var ErrInvalidSize = errors.New("invalid size value")

// Size unit multipliers.
const (
	Byte int64 = 1

	// Base-10 (SI) units
	KB int64 = 1000
	MB int64 = 1000 * KB
	GB int64 = 1000 * MB

	// Base-2 (IEC) units
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
)

var sizeUnits = map[string]int64{
	"": Byte, "B": Byte,
	"K": KB, "KB": KB,
	"M": MB, "MB": MB,
	"G": GB, "GB": GB,
	"KI": KiB, "KIB": KiB,
	"MI": MiB, "MIB": MiB,
	"GI": GiB, "GIB": GiB,
}

// ParseSize parses human-readable sizes such as "512", "10KB", "1.5MiB".
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	numEnd := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if numEnd == -1 {
		numEnd = len(s)
	}
	if numEnd == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	mult, ok := sizeUnits[strings.ToUpper(strings.TrimSpace(s[numEnd:]))]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit in %q", ErrInvalidSize, s)
	}

	num, err := strconv.ParseFloat(s[:numEnd], 64)
	if err != nil || math.IsNaN(num) || math.IsInf(num, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	bytes := num * float64(mult)
	if bytes > float64(math.MaxInt64) {
		return 0, fmt.Errorf("%w: size overflows int64", ErrInvalidSize)
	}
	return int64(bytes), nil
}

// FormatSize renders bytes with IEC units.
func FormatSize(bytes int64) string {
	switch {
	case bytes >= GiB:
		return fmt.Sprintf("%.1fGiB", float64(bytes)/float64(GiB))
	case bytes >= MiB:
		return fmt.Sprintf("%.1fMiB", float64(bytes)/float64(MiB))
	case bytes >= KiB:
		return fmt.Sprintf("%.1fKiB", float64(bytes)/float64(KiB))
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}
