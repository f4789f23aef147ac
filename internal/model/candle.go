package model

import (
	"encoding/json"
	"math"
	"time"
)

// Candle is one OHLCV bar of a historical series for a single instrument.
// Prices are stored in paise (int64) so a series round-trips through storage
// without floating-point drift; indicators convert to rupees on read.
type Candle struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TS       time.Time `json:"ts"`    // bar open time
	Open     int64     `json:"open"`  // paise
	High     int64     `json:"high"`  // paise
	Low      int64     `json:"low"`   // paise
	Close    int64     `json:"close"` // paise
	Volume   int64     `json:"volume"`
}

// Key returns "exchange:token".
func (c *Candle) Key() string {
	return c.Exchange + ":" + c.Token
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// OpenRs, HighRs, LowRs and CloseRs return prices in rupees.
func (c *Candle) OpenRs() float64  { return Rupees(c.Open) }
func (c *Candle) HighRs() float64  { return Rupees(c.High) }
func (c *Candle) LowRs() float64   { return Rupees(c.Low) }
func (c *Candle) CloseRs() float64 { return Rupees(c.Close) }

// Rupees converts paise to rupees.
func Rupees(paise int64) float64 {
	return float64(paise) / 100.0
}

// Paise converts a rupee price (as returned by the broker) to paise.
func Paise(rupees float64) int64 {
	return int64(math.Round(rupees * 100))
}
