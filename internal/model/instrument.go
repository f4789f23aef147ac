package model

// Instrument is one row of the broker scrip master, reduced to the fields the
// scanner needs to turn a trading name into a candle-data token.
type Instrument struct {
	Token          string `json:"token"`
	Exchange       string `json:"exch_seg"`
	TradingSymbol  string `json:"symbol"`         // e.g. "TCS-EQ"
	Name           string `json:"name"`           // e.g. "TCS"
	InstrumentType string `json:"instrumenttype"` // empty for cash equities
	LotSize        string `json:"lotsize"`
	TickSize       string `json:"tick_size"` // paise, as a decimal string
}

// Key returns a unique key for this instrument: "exchange:token".
func (i *Instrument) Key() string {
	return i.Exchange + ":" + i.Token
}
