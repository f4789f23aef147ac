package indicator

import (
	"errors"
	"fmt"
	"math"

	"kama-scannerv1/internal/model"
)

var (
	// ErrInvalidSeries is the parent of every input-contract violation.
	ErrInvalidSeries = errors.New("indicator: invalid series")
	// ErrEmptySeries is returned when Compute is given no candles.
	ErrEmptySeries = fmt.Errorf("%w: empty", ErrInvalidSeries)
	// ErrUnsortedSeries is returned when timestamps are not strictly increasing.
	ErrUnsortedSeries = fmt.Errorf("%w: timestamps not strictly increasing", ErrInvalidSeries)
	// ErrInvalidParams is returned by Params.Validate.
	ErrInvalidParams = errors.New("indicator: invalid params")
)

// Params holds every length the engine computes with.
type Params struct {
	ShortLength int // KAMA efficiency lookback, short
	LongLength  int // KAMA efficiency lookback, long
	FastLength  int // KAMA fast EMA length (fastα = 2/(n+1))
	SlowLength  int // KAMA slow EMA length (slowα = 2/(n+1))
	ATRLength   int
	ChopLength  int
	ADXLength   int // 0 disables ADX/DI
	SMAFast     int // 0 disables
	SMASlow     int // 0 disables

	// TieBreak is the trend assigned when a KAMA is exactly unchanged
	// from the previous bar.
	TieBreak Trend
}

// DefaultParams returns the scanner's production lengths.
func DefaultParams() Params {
	return Params{
		ShortLength: 14,
		LongLength:  250,
		FastLength:  2,
		SlowLength:  30,
		ATRLength:   14,
		ChopLength:  14,
		ADXLength:   14,
		SMAFast:     20,
		SMASlow:     200,
		TieBreak:    Falling,
	}
}

// Validate checks that every length is usable.
func (p Params) Validate() error {
	pos := []struct {
		name string
		v    int
	}{
		{"short length", p.ShortLength},
		{"long length", p.LongLength},
		{"fast length", p.FastLength},
		{"slow length", p.SlowLength},
		{"atr length", p.ATRLength},
	}
	for _, f := range pos {
		if f.v < 1 {
			return fmt.Errorf("%w: %s must be >= 1, got %d", ErrInvalidParams, f.name, f.v)
		}
	}
	if p.ChopLength < 2 {
		return fmt.Errorf("%w: chop length must be >= 2, got %d", ErrInvalidParams, p.ChopLength)
	}
	for _, f := range []struct {
		name string
		v    int
	}{{"adx length", p.ADXLength}, {"sma fast", p.SMAFast}, {"sma slow", p.SMASlow}} {
		if f.v < 0 {
			return fmt.Errorf("%w: %s must be >= 0, got %d", ErrInvalidParams, f.name, f.v)
		}
	}
	if p.FastLength >= p.SlowLength {
		return fmt.Errorf("%w: fast length %d must be below slow length %d", ErrInvalidParams, p.FastLength, p.SlowLength)
	}
	if p.TieBreak != Rising && p.TieBreak != Falling {
		return fmt.Errorf("%w: unknown tie-break %d", ErrInvalidParams, p.TieBreak)
	}
	return nil
}

// MinBars is the series length at which every enabled indicator is defined
// on both of the last two rows. KAMA efficiency, ATR and Chop are first
// defined at bar length, ADX at bar 2*length-1.
func (p Params) MinBars() int {
	n := max(p.ShortLength, p.LongLength, p.ATRLength, p.ChopLength, p.SMAFast, p.SMASlow)
	if p.ADXLength > 0 {
		n = max(n, 2*p.ADXLength-1)
	}
	return n + 2
}

// Row is a candle extended with the indicator values computed at that bar.
// Undefined values are NaN.
type Row struct {
	model.Candle

	KAMAShort  float64
	KAMALong   float64
	ShortTrend Trend
	LongTrend  Trend
	ATR        float64
	Chop       float64
	ADX        float64
	PlusDI     float64
	MinusDI    float64
	SMAFast    float64
	SMASlow    float64
}

// Engine computes the indicator-augmented series for one candle series.
// It holds only Params, so one Engine is safe to share across goroutines.
type Engine struct {
	params Params
}

// NewEngine validates p and returns an Engine.
func NewEngine(p Params) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Engine{params: p}, nil
}

// Params returns the engine's parameters.
func (e *Engine) Params() Params { return e.params }

// Compute runs every indicator over series in one left-to-right pass and
// returns one Row per candle. series must be non-empty and strictly
// increasing by timestamp. Short series are not an error: rows lacking
// history carry NaN fields.
func (e *Engine) Compute(series []model.Candle) ([]Row, error) {
	if err := checkSeries(series); err != nil {
		return nil, err
	}

	p := e.params
	short := NewKAMA(p.ShortLength, p.FastLength, p.SlowLength)
	long := NewKAMA(p.LongLength, p.FastLength, p.SlowLength)
	atr := NewATR(p.ATRLength)
	chop := NewChop(p.ChopLength)

	var adx *ADX
	if p.ADXLength > 0 {
		adx = NewADX(p.ADXLength)
	}
	var smaFast, smaSlow *SMA
	if p.SMAFast > 0 {
		smaFast = NewSMA(p.SMAFast)
	}
	if p.SMASlow > 0 {
		smaSlow = NewSMA(p.SMASlow)
	}

	rows := make([]Row, len(series))
	for i, c := range series {
		short.Update(c)
		long.Update(c)
		atr.Update(c)
		chop.Update(c)

		r := Row{
			Candle:    c,
			KAMAShort: short.Value(),
			KAMALong:  long.Value(),
			ATR:       atr.Value(),
			Chop:      chop.Value(),
			ADX:       math.NaN(),
			PlusDI:    math.NaN(),
			MinusDI:   math.NaN(),
			SMAFast:   math.NaN(),
			SMASlow:   math.NaN(),
		}
		if adx != nil {
			adx.Update(c)
			r.ADX = adx.Value()
			r.PlusDI = adx.PlusDI()
			r.MinusDI = adx.MinusDI()
		}
		if smaFast != nil {
			smaFast.Update(c)
			r.SMAFast = smaFast.Value()
		}
		if smaSlow != nil {
			smaSlow.Update(c)
			r.SMASlow = smaSlow.Value()
		}

		// Index 0 has no previous KAMA and stays Falling.
		if i > 0 {
			prev := &rows[i-1]
			r.ShortTrend = TrendOf(prev.KAMAShort, r.KAMAShort, p.TieBreak)
			r.LongTrend = TrendOf(prev.KAMALong, r.KAMALong, p.TieBreak)
		}
		rows[i] = r
	}
	return rows, nil
}

func checkSeries(series []model.Candle) error {
	if len(series) == 0 {
		return ErrEmptySeries
	}
	for i := 1; i < len(series); i++ {
		if !series[i].TS.After(series[i-1].TS) {
			return fmt.Errorf("%w: index %d (%s) after %s", ErrUnsortedSeries, i,
				series[i].TS.Format("2006-01-02T15:04:05"), series[i-1].TS.Format("2006-01-02T15:04:05"))
		}
	}
	return nil
}
