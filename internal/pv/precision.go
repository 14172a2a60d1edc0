package pv

import (
	"strconv"
	"strings"

	"github.com/pvmon/pvmon/internal/pvdata"
)

const (
	DefaultPrecision = 4
	// MaxPrecision is the most digits a float64 can meaningfully show.
	MaxPrecision = 17
)

// Precision extracts the fractional digit count from a fixed-point display
// format such as "%.3F". Anything without both 'F' and '.', without digits
// after the dot or above MaxPrecision yields DefaultPrecision.
func Precision(format string) int {
	if !strings.Contains(format, "F") {
		return DefaultPrecision
	}
	dot := strings.IndexByte(format, '.')
	if dot < 0 {
		return DefaultPrecision
	}
	rest := strings.TrimLeft(format[dot+1:], " \t")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil || n > MaxPrecision {
		return DefaultPrecision
	}
	return n
}

// ResolvePrecision reads display.format from s.
func ResolvePrecision(s pvdata.Structure) int {
	format, err := pvdata.String(s, "display.format")
	if err != nil {
		return DefaultPrecision
	}
	return Precision(format)
}
