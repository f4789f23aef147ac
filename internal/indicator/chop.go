package indicator

import (
	"math"

	"kama-scannerv1/internal/model"
)

// Chop calculates the Choppiness Index:
//
//	100 * log10(ΣTR / (maxHigh - minLow)) / log10(period)
//
// over the last period bars, clamped to [0, 100]. Higher values mean a
// range-bound market. Bar 0 has no true range, so the first window is bars
// 1..period, as with pandas-ta's chop over TA-Lib's ATR(1). Value is NaN
// until the window is full and whenever the window's high-low range is not
// positive.
type Chop struct {
	period int
	tr     []float64 // circular windows
	highs  []float64
	lows   []float64
	idx    int
	count  int

	prevClose float64
	seen      bool
	current   float64
}

// NewChop creates a Choppiness Index over period bars. period must be >= 2.
func NewChop(period int) *Chop {
	return &Chop{
		period:  period,
		tr:      make([]float64, period),
		highs:   make([]float64, period),
		lows:    make([]float64, period),
		current: math.NaN(),
	}
}

func (c *Chop) Name() string { return "CHOP_" + itoa(c.period) }

func (c *Chop) Update(candle model.Candle) {
	if !c.seen {
		c.prevClose = candle.CloseRs()
		c.seen = true
		return
	}
	c.tr[c.idx] = trueRange(candle, c.prevClose)
	c.highs[c.idx] = candle.HighRs()
	c.lows[c.idx] = candle.LowRs()
	c.idx = (c.idx + 1) % c.period
	c.count++
	c.prevClose = candle.CloseRs()

	if c.count < c.period {
		return
	}

	sum := 0.0
	hi, lo := math.Inf(-1), math.Inf(1)
	for i := 0; i < c.period; i++ {
		sum += c.tr[i]
		hi = math.Max(hi, c.highs[i])
		lo = math.Min(lo, c.lows[i])
	}

	rng := hi - lo
	if rng <= 0 {
		c.current = math.NaN()
		return
	}
	v := 100 * math.Log10(sum/rng) / math.Log10(float64(c.period))
	c.current = math.Min(100, math.Max(0, v))
}

func (c *Chop) Value() float64 { return c.current }
func (c *Chop) Ready() bool    { return !math.IsNaN(c.current) }
