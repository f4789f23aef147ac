package indicator

import (
	"math"

	"kama-scannerv1/internal/model"
)

// SMA calculates Simple Moving Average of closes over a rolling window.
// Uses a preallocated circular buffer for zero-allocation hot path.
type SMA struct {
	period  int
	buf     []float64 // preallocated circular buffer
	idx     int       // current write position
	count   int       // total values received
	current float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		period:  period,
		buf:     make([]float64, period),
		current: math.NaN(),
	}
}

func (s *SMA) Name() string { return "SMA_" + itoa(s.period) }

func (s *SMA) Update(candle model.Candle) {
	s.buf[s.idx] = candle.CloseRs()
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		// Summed over the buffer each time so long series carry no
		// accumulated subtraction error.
		var sum float64
		for _, v := range s.buf {
			sum += v
		}
		s.current = sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.count >= s.period }
