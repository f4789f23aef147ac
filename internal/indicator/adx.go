package indicator

import (
	"math"

	"kama-scannerv1/internal/model"
)

// ADX calculates Wilder's Directional Movement System: +DI, -DI and ADX.
//
// +DM = up move when it exceeds the down move and is positive, else 0
// (-DM mirrors). TR, +DM and -DM are Wilder-smoothed from the second bar on;
// DI = 100 * smoothed DM / smoothed TR. DX = 100 * |+DI - -DI| / (+DI + -DI)
// (0 when both are 0), and ADX is DX Wilder-smoothed over the same period.
//
// DI values are defined from bar period; ADX from bar 2*period-1.
type ADX struct {
	period int

	tr      *SMMA
	plusDM  *SMMA
	minusDM *SMMA
	dx      *SMMA

	prev    model.Candle
	seen    bool
	plusDI  float64
	minusDI float64
}

// NewADX creates an ADX indicator with the given period.
func NewADX(period int) *ADX {
	return &ADX{
		period:  period,
		tr:      NewSMMA(period),
		plusDM:  NewSMMA(period),
		minusDM: NewSMMA(period),
		dx:      NewSMMA(period),
		plusDI:  math.NaN(),
		minusDI: math.NaN(),
	}
}

func (a *ADX) Name() string { return "ADX_" + itoa(a.period) }

func (a *ADX) Update(candle model.Candle) {
	if !a.seen {
		a.prev = candle
		a.seen = true
		return
	}

	up := candle.HighRs() - a.prev.HighRs()
	down := a.prev.LowRs() - candle.LowRs()
	var pdm, mdm float64
	if up > down && up > 0 {
		pdm = up
	}
	if down > up && down > 0 {
		mdm = down
	}

	a.tr.Add(trueRange(candle, a.prev.CloseRs()))
	a.plusDM.Add(pdm)
	a.minusDM.Add(mdm)
	a.prev = candle

	if !a.tr.Ready() {
		return
	}

	str := a.tr.Value()
	if str > 0 {
		a.plusDI = 100 * a.plusDM.Value() / str
		a.minusDI = 100 * a.minusDM.Value() / str
	} else {
		a.plusDI, a.minusDI = 0, 0
	}

	var dx float64
	if sum := a.plusDI + a.minusDI; sum > 0 {
		dx = 100 * abs(a.plusDI-a.minusDI) / sum
	}
	a.dx.Add(dx)
}

// Value returns the ADX.
func (a *ADX) Value() float64 { return a.dx.Value() }
func (a *ADX) Ready() bool    { return a.dx.Ready() }

// PlusDI returns the latest +DI, NaN until period bars have been seen.
func (a *ADX) PlusDI() float64 { return a.plusDI }

// MinusDI returns the latest -DI.
func (a *ADX) MinusDI() float64 { return a.minusDI }
