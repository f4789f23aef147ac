// Package indicator provides technical indicator calculations over candle data.
//
// All indicators implement the Indicator interface, receiving candles one at a
// time in timestamp order and producing float64 values. The Engine composes
// them into one left-to-right pass over a full series.
package indicator

import "kama-scannerv1/internal/model"

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "KAMA_14", "ATR_14").
	Name() string

	// Update feeds the next candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current calculated value. Returns NaN if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// trueRange returns max(h-l, |h-prevClose|, |l-prevClose|) in rupees.
// The first bar of a series has no previous close and therefore no true
// range; callers skip it, as TA-Lib does.
func trueRange(c model.Candle, prevClose float64) float64 {
	h, l := c.HighRs(), c.LowRs()
	tr := h - l
	if v := abs(h - prevClose); v > tr {
		tr = v
	}
	if v := abs(l - prevClose); v > tr {
		tr = v
	}
	return tr
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
