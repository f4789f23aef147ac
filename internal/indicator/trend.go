package indicator

import (
	"fmt"
	"strings"
)

// Trend is the slope state of a KAMA series at one bar.
type Trend int8

const (
	Falling Trend = iota
	Rising
)

func (t Trend) String() string {
	if t == Rising {
		return "RISING"
	}
	return "FALLING"
}

// MarshalText encodes the trend as "RISING" or "FALLING".
func (t Trend) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts "RISING"/"FALLING" in any case.
func (t *Trend) UnmarshalText(b []byte) error {
	v, err := ParseTrend(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseTrend parses "rising" or "falling" (case-insensitive).
func ParseTrend(s string) (Trend, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RISING":
		return Rising, nil
	case "FALLING":
		return Falling, nil
	}
	return Falling, fmt.Errorf("unknown trend %q", s)
}

// TrendOf classifies the change from prev to cur. A strictly positive change
// is Rising, a strictly negative one Falling, and an exact zero resolves to
// tie.
func TrendOf(prev, cur float64, tie Trend) Trend {
	d := cur - prev
	switch {
	case d > 0:
		return Rising
	case d < 0:
		return Falling
	case d == 0:
		return tie
	}
	// NaN difference
	return Falling
}
