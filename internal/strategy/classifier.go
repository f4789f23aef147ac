// Package strategy classifies the latest bar of an indicator-augmented series
// into BUY, SELL or NONE with stop-loss and target levels.
//
// One Classifier implements every rule set; the Variant in its Policy picks
// which conditions apply and the remaining Policy fields carry the numeric
// thresholds. Classification reads only the last two rows and has no side
// effects.
package strategy

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"kama-scannerv1/internal/indicator"
	"kama-scannerv1/internal/model"
)

// Variant selects a rule set.
type Variant string

const (
	// VariantKAMAChop fires when both KAMA trends flip on the latest bar
	// and the market is not choppy. Stop-loss is ATR-based off the
	// previous bar's extreme.
	VariantKAMAChop Variant = "kama_chop"

	// VariantKAMAADX fires when the short KAMA flips in the direction of
	// the long KAMA, choppiness is low and ADX shows a strong trend.
	// Stop-loss is a fixed fraction beyond the latest bar's extreme.
	VariantKAMAADX Variant = "kama_adx"

	// VariantSMADeviation compares the close's and the fast SMA's
	// percentage distance from the slow trend. It emits no levels.
	VariantSMADeviation Variant = "sma_deviation"
)

// ErrInvalidPolicy is returned by Policy.Validate.
var ErrInvalidPolicy = errors.New("strategy: invalid policy")

// ParseVariant parses a variant name (case-insensitive).
func ParseVariant(s string) (Variant, error) {
	v := Variant(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case VariantKAMAChop, VariantKAMAADX, VariantSMADeviation:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown variant %q", ErrInvalidPolicy, s)
}

// Policy is the full rule configuration of a Classifier.
type Policy struct {
	Variant Variant

	ChopMax float64 // latest chop must be strictly below
	ADXMin  float64 // latest ADX must be strictly above (kama_adx)

	StopATRMult   float64 // kama_chop: stop = prev extreme ∓ mult*ATR
	TargetATRMult float64 // target = close ± mult*ATR

	BuyStopFactor  float64 // kama_adx: stop = low * factor on BUY
	SellStopFactor float64 // kama_adx: stop = high * factor on SELL

	DeviationPct float64 // sma_deviation threshold, in percent
}

// DefaultPolicy returns the production thresholds for v.
func DefaultPolicy(v Variant) Policy {
	p := Policy{
		Variant:        v,
		ChopMax:        50,
		ADXMin:         55,
		StopATRMult:    1.5,
		TargetATRMult:  2.5,
		BuyStopFactor:  0.999,
		SellStopFactor: 1.001,
		DeviationPct:   1.8,
	}
	if v == VariantKAMAADX {
		p.ChopMax = 38.2
	}
	return p
}

// Validate checks the policy for the fields its variant uses.
func (p Policy) Validate() error {
	if _, err := ParseVariant(string(p.Variant)); err != nil {
		return err
	}
	switch p.Variant {
	case VariantKAMAChop:
		if p.StopATRMult < 0 || p.TargetATRMult < 0 {
			return fmt.Errorf("%w: ATR multipliers must be >= 0", ErrInvalidPolicy)
		}
	case VariantKAMAADX:
		if p.TargetATRMult < 0 {
			return fmt.Errorf("%w: target ATR multiplier must be >= 0", ErrInvalidPolicy)
		}
		if p.BuyStopFactor <= 0 || p.BuyStopFactor >= 1 {
			return fmt.Errorf("%w: buy stop factor %v must be in (0, 1)", ErrInvalidPolicy, p.BuyStopFactor)
		}
		if p.SellStopFactor <= 1 {
			return fmt.Errorf("%w: sell stop factor %v must be > 1", ErrInvalidPolicy, p.SellStopFactor)
		}
	case VariantSMADeviation:
		if p.DeviationPct <= 0 {
			return fmt.Errorf("%w: deviation %v must be > 0", ErrInvalidPolicy, p.DeviationPct)
		}
	}
	return nil
}

// minRows is the shortest series whose last two rows both have a trend
// derived from a KAMA difference.
const minRows = 3

// Classifier applies a Policy to indicator rows. It is immutable and safe
// for concurrent use.
type Classifier struct {
	policy Policy
}

// NewClassifier validates p and returns a Classifier.
func NewClassifier(p Policy) (*Classifier, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{policy: p}, nil
}

// Policy returns the classifier's policy.
func (c *Classifier) Policy() Policy { return c.policy }

// Classify inspects the last two rows and returns the signal for inst.
// Both rows must carry a computed trend, and row 0 only has the Falling
// placeholder, so fewer than three rows yields ActionNone, as does any gate
// reading an undefined value. StopLoss and Target are set only on BUY/SELL, rounded with
// RoundPrice. GeneratedAt is left for the caller.
func (c *Classifier) Classify(inst model.Instrument, rows []indicator.Row) model.Signal {
	sig := model.Signal{
		Symbol:    inst.Name,
		Token:     inst.Token,
		Exchange:  inst.Exchange,
		Action:    model.ActionNone,
		Variant:   string(c.policy.Variant),
		KAMAShort: math.NaN(),
		KAMALong:  math.NaN(),
		Chop:      math.NaN(),
		ADX:       math.NaN(),
		ATR:       math.NaN(),
	}
	if len(rows) == 0 {
		return sig
	}

	latest := &rows[len(rows)-1]
	sig.TS = latest.TS
	sig.Close = latest.CloseRs()
	sig.KAMAShort = latest.KAMAShort
	sig.KAMALong = latest.KAMALong
	sig.Chop = latest.Chop
	sig.ADX = latest.ADX
	sig.ATR = latest.ATR

	if len(rows) < minRows {
		return sig
	}
	prev := &rows[len(rows)-2]

	var action model.Action
	var stop, target float64
	switch c.policy.Variant {
	case VariantKAMAChop:
		action, stop, target = c.kamaChop(prev, latest)
	case VariantKAMAADX:
		action, stop, target = c.kamaADX(prev, latest)
	case VariantSMADeviation:
		sig.Action = c.smaDeviation(latest)
		return sig
	}

	if action == model.ActionNone || math.IsNaN(stop) || math.IsNaN(target) {
		return sig
	}
	stop, target = RoundPrice(stop), RoundPrice(target)
	sig.Action = action
	sig.StopLoss = &stop
	sig.Target = &target
	return sig
}

func flipped(prev, latest, to indicator.Trend) bool {
	return prev != to && latest == to
}

func (c *Classifier) kamaChop(prev, latest *indicator.Row) (model.Action, float64, float64) {
	p := c.policy
	if !(latest.Chop < p.ChopMax) {
		return model.ActionNone, 0, 0
	}
	px := latest.CloseRs()

	if flipped(prev.ShortTrend, latest.ShortTrend, indicator.Rising) &&
		flipped(prev.LongTrend, latest.LongTrend, indicator.Rising) {
		return model.ActionBuy,
			prev.LowRs() - p.StopATRMult*latest.ATR,
			px + p.TargetATRMult*latest.ATR
	}
	if flipped(prev.ShortTrend, latest.ShortTrend, indicator.Falling) &&
		flipped(prev.LongTrend, latest.LongTrend, indicator.Falling) {
		return model.ActionSell,
			prev.HighRs() + p.StopATRMult*latest.ATR,
			px - p.TargetATRMult*latest.ATR
	}
	return model.ActionNone, 0, 0
}

func (c *Classifier) kamaADX(prev, latest *indicator.Row) (model.Action, float64, float64) {
	p := c.policy
	if !(latest.Chop < p.ChopMax) || !(latest.ADX > p.ADXMin) {
		return model.ActionNone, 0, 0
	}
	px := latest.CloseRs()

	if flipped(prev.ShortTrend, latest.ShortTrend, indicator.Rising) && latest.LongTrend == indicator.Rising {
		return model.ActionBuy,
			latest.LowRs() * p.BuyStopFactor,
			px + p.TargetATRMult*latest.ATR
	}
	if flipped(prev.ShortTrend, latest.ShortTrend, indicator.Falling) && latest.LongTrend == indicator.Falling {
		return model.ActionSell,
			latest.HighRs() * p.SellStopFactor,
			px - p.TargetATRMult*latest.ATR
	}
	return model.ActionNone, 0, 0
}

// smaDeviation: SELL when both the close and the fast SMA are stretched
// away from their references, BUY when the close hugs the fast SMA while
// the fast SMA is stretched from the slow one.
func (c *Classifier) smaDeviation(latest *indicator.Row) model.Action {
	fast, slow := latest.SMAFast, latest.SMASlow
	if !(fast > 0) || !(slow > 0) {
		return model.ActionNone
	}
	px := latest.CloseRs()
	dClose := math.Abs(px-fast) / fast * 100
	dTrend := math.Abs(fast-slow) / slow * 100

	th := c.policy.DeviationPct
	switch {
	case dClose > th && dTrend > th:
		return model.ActionSell
	case dClose < th && dTrend > th:
		return model.ActionBuy
	}
	return model.ActionNone
}

// RoundPrice rounds v to two decimals, half away from zero on v*100.
//
// The rounding is applied to the float64 product, not to the decimal the
// caller wrote, so ties do not round consistently: 101.005*100 evaluates to
// exactly 10100.5 and gives 101.01, while 1.005*100 evaluates to
// 100.49999999999999 and gives 1.00.
func RoundPrice(v float64) float64 {
	return math.Round(v*100) / 100
}
