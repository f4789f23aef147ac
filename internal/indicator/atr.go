package indicator

import "kama-scannerv1/internal/model"

// ATR calculates Average True Range with Wilder smoothing, following TA-Lib:
// bar 0 has no true range, the first value (at bar period) is the simple
// mean of the true ranges of bars 1..period, then
// ATR = (prev*(period-1) + TR) / period.
type ATR struct {
	period    int
	smma      *SMMA
	prevClose float64
	seen      bool
}

// NewATR creates a new ATR indicator with the given period.
func NewATR(period int) *ATR {
	return &ATR{period: period, smma: NewSMMA(period)}
}

func (a *ATR) Name() string { return "ATR_" + itoa(a.period) }

func (a *ATR) Update(candle model.Candle) {
	if a.seen {
		a.smma.Add(trueRange(candle, a.prevClose))
	}
	a.prevClose = candle.CloseRs()
	a.seen = true
}

func (a *ATR) Value() float64 { return a.smma.Value() }
func (a *ATR) Ready() bool    { return a.smma.Ready() }
