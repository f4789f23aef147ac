package model

import (
	"encoding/json"
	"time"
)

// Action is the classification of the latest bar.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionNone Action = "NONE"
)

// Signal is the record produced for one symbol in one scan cycle.
// StopLoss and Target are nil when Action is NONE.
type Signal struct {
	Symbol      string    `json:"symbol"`
	Token       string    `json:"token"`
	Exchange    string    `json:"exchange"`
	Action      Action    `json:"signal"`
	Variant     string    `json:"variant"`
	TS          time.Time `json:"ts"` // timestamp of the classified bar
	Close       float64   `json:"close"`
	KAMAShort   float64   `json:"kama_short"`
	KAMALong    float64   `json:"kama_long"`
	Chop        float64   `json:"choppiness_index"`
	ADX         float64   `json:"adx"`
	ATR         float64   `json:"atr"`
	StopLoss    *float64  `json:"stop_loss"`
	Target      *float64  `json:"target"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Actionable reports whether the signal is BUY or SELL.
func (s *Signal) Actionable() bool {
	return s.Action == ActionBuy || s.Action == ActionSell
}

// JSON returns the JSON-encoded signal. NaN snapshot fields are encoded as
// null so a half-warmed series still serialises.
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s.wire())
	return b
}

// MarshalJSON encodes NaN indicator snapshots as null.
func (s Signal) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.wire())
}

type signalWire struct {
	Symbol      string    `json:"symbol"`
	Token       string    `json:"token"`
	Exchange    string    `json:"exchange"`
	Action      Action    `json:"signal"`
	Variant     string    `json:"variant"`
	TS          time.Time `json:"ts"`
	Close       float64   `json:"close"`
	KAMAShort   *float64  `json:"kama_short"`
	KAMALong    *float64  `json:"kama_long"`
	Chop        *float64  `json:"choppiness_index"`
	ADX         *float64  `json:"adx"`
	ATR         *float64  `json:"atr"`
	StopLoss    *float64  `json:"stop_loss"`
	Target      *float64  `json:"target"`
	GeneratedAt time.Time `json:"generated_at"`
}

func (s *Signal) wire() signalWire {
	return signalWire{
		Symbol:      s.Symbol,
		Token:       s.Token,
		Exchange:    s.Exchange,
		Action:      s.Action,
		Variant:     s.Variant,
		TS:          s.TS,
		Close:       s.Close,
		KAMAShort:   Finite(s.KAMAShort),
		KAMALong:    Finite(s.KAMALong),
		Chop:        Finite(s.Chop),
		ADX:         Finite(s.ADX),
		ATR:         Finite(s.ATR),
		StopLoss:    s.StopLoss,
		Target:      s.Target,
		GeneratedAt: s.GeneratedAt,
	}
}

// UnmarshalJSON restores null indicator snapshots as NaN.
func (s *Signal) UnmarshalJSON(b []byte) error {
	var w signalWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*s = Signal{
		Symbol:      w.Symbol,
		Token:       w.Token,
		Exchange:    w.Exchange,
		Action:      w.Action,
		Variant:     w.Variant,
		TS:          w.TS,
		Close:       w.Close,
		KAMAShort:   Float(w.KAMAShort),
		KAMALong:    Float(w.KAMALong),
		Chop:        Float(w.Chop),
		ADX:         Float(w.ADX),
		ATR:         Float(w.ATR),
		StopLoss:    w.StopLoss,
		Target:      w.Target,
		GeneratedAt: w.GeneratedAt,
	}
	return nil
}
