package indicator

import (
	"math"

	"kama-scannerv1/internal/model"
)

// KAMA calculates Kaufman's Adaptive Moving Average.
//
//	er    = |close - close[length ago]| / Σ|close - prevClose| over length bars
//	alpha = (er*(fastα - slowα) + slowα)²
//	kama  = alpha*close + (1-alpha)*kama[prev]
//
// The first value is the first close. Until length bars of history exist the
// efficiency ratio is undefined and slowα is used unsquared. A zero-volatility
// window gives er = 0.
//
// KAMA is path dependent: every value depends on the whole series before it,
// so it must be fed the full history in order.
type KAMA struct {
	length int
	fastA  float64
	slowA  float64

	buf   []float64 // last length+1 closes, circular
	idx   int       // next write position; oldest close once full
	count int

	er      float64
	current float64
}

// NewKAMA creates a KAMA with the given efficiency lookback and fast/slow
// EMA lengths (classically 2 and 30).
func NewKAMA(length, fast, slow int) *KAMA {
	return &KAMA{
		length:  length,
		fastA:   2.0 / float64(fast+1),
		slowA:   2.0 / float64(slow+1),
		buf:     make([]float64, length+1),
		er:      math.NaN(),
		current: math.NaN(),
	}
}

func (k *KAMA) Name() string { return "KAMA_" + itoa(k.length) }

func (k *KAMA) Update(candle model.Candle) {
	price := candle.CloseRs()

	k.buf[k.idx] = price
	k.idx = (k.idx + 1) % len(k.buf)
	k.count++

	if k.count == 1 {
		k.current = price
		return
	}

	alpha := k.slowA
	if k.count > k.length {
		k.er = k.efficiency()
		sc := k.er*(k.fastA-k.slowA) + k.slowA
		alpha = sc * sc
	}
	k.current += alpha * (price - k.current)
}

// efficiency computes the efficiency ratio over the full window. The
// volatility sum is taken over the buffer rather than kept as a running total.
func (k *KAMA) efficiency() float64 {
	n := len(k.buf)
	oldest := k.buf[k.idx]
	newest := k.buf[(k.idx+n-1)%n]

	var vol float64
	prev := oldest
	for i := 1; i < n; i++ {
		v := k.buf[(k.idx+i)%n]
		vol += abs(v - prev)
		prev = v
	}
	if vol == 0 {
		return 0
	}
	return abs(newest-oldest) / vol
}

// Value returns the latest KAMA; defined from the first candle.
func (k *KAMA) Value() float64 { return k.current }

// Ready reports whether at least one candle has been seen.
func (k *KAMA) Ready() bool { return k.count > 0 }

// ER returns the efficiency ratio of the latest update, NaN until length
// bars of history exist.
func (k *KAMA) ER() float64 { return k.er }

// Adaptive reports whether the efficiency ratio is defined, i.e. alpha has
// left its slowα warm-up value.
func (k *KAMA) Adaptive() bool { return k.count > k.length }
