package streams

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParsePace converts a "M:SS" min/km pace string (decorations tolerated) to
// meters per second. Returns nil when the string carries no usable pace.
func ParsePace(paceStr string) *float64 {
	clean := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == ':' || r == '.' {
			return r
		}
		return -1
	}, paceStr)
	if clean == "" {
		return nil
	}

	var minPerKm float64
	if strings.Contains(clean, ":") {
		parts := strings.Split(clean, ":")
		if len(parts) != 2 {
			return nil
		}
		mins, errM := strconv.ParseFloat(parts[0], 64)
		secs, errS := strconv.ParseFloat(parts[1], 64)
		if errM != nil || errS != nil {
			return nil
		}
		minPerKm = mins + secs/60
	} else {
		parsed, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			return nil
		}
		minPerKm = parsed
	}

	if minPerKm <= 0 {
		return nil
	}
	mps := 1000 / (minPerKm * 60)
	return &mps
}

// FormatPace renders meters per second as a "M:SS" min/km string.
func FormatPace(mps float64) string {
	if mps <= 0 {
		return "-:--"
	}
	minPerKm := (1000 / mps) / 60
	mins := int(minPerKm)
	secs := int(math.Round((minPerKm - float64(mins)) * 60))
	if secs == 60 {
		mins++
		secs = 0
	}
	return fmt.Sprintf("%d:%02d", mins, secs)
}
