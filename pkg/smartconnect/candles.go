package smartconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Interval is a historical candle interval accepted by getCandleData.
type Interval string

const (
	OneMinute     Interval = "ONE_MINUTE"
	ThreeMinute   Interval = "THREE_MINUTE"
	FiveMinute    Interval = "FIVE_MINUTE"
	TenMinute     Interval = "TEN_MINUTE"
	FifteenMinute Interval = "FIFTEEN_MINUTE"
	ThirtyMinute  Interval = "THIRTY_MINUTE"
	OneHour       Interval = "ONE_HOUR"
	OneDay        Interval = "ONE_DAY"
)

// Duration returns the bar length of the interval.
func (i Interval) Duration() time.Duration {
	switch i {
	case OneMinute:
		return time.Minute
	case ThreeMinute:
		return 3 * time.Minute
	case FiveMinute:
		return 5 * time.Minute
	case TenMinute:
		return 10 * time.Minute
	case FifteenMinute:
		return 15 * time.Minute
	case ThirtyMinute:
		return 30 * time.Minute
	case OneHour:
		return time.Hour
	case OneDay:
		return 24 * time.Hour
	}
	return 0
}

// ParseInterval validates an interval name.
func ParseInterval(s string) (Interval, error) {
	i := Interval(s)
	if i.Duration() == 0 {
		return "", fmt.Errorf("smartconnect: unknown interval %q", s)
	}
	return i, nil
}

// CandleParams selects a historical candle range.
type CandleParams struct {
	Exchange    string
	SymbolToken string
	Interval    Interval
	From        time.Time
	To          time.Time
}

// Candle is one historical bar in rupees, as returned by the API.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// apiDateLayout is the fromdate/todate format; the API reads it as IST.
const apiDateLayout = "2006-01-02 15:04"

var ist = time.FixedZone("IST", 5*3600+1800)

// GetCandleData fetches historical candles, oldest first.
func (sc *SmartConnect) GetCandleData(ctx context.Context, p CandleParams) ([]Candle, error) {
	params := map[string]any{
		"exchange":    p.Exchange,
		"symboltoken": p.SymbolToken,
		"interval":    string(p.Interval),
		"fromdate":    p.From.In(ist).Format(apiDateLayout),
		"todate":      p.To.In(ist).Format(apiDateLayout),
	}
	env, err := sc.doRequest(ctx, http.MethodPost, "api.candle.data", params)
	if err != nil {
		return nil, fmt.Errorf("candle data %s:%s: %w", p.Exchange, p.SymbolToken, err)
	}
	return parseCandles(env.Data)
}

// parseCandles decodes rows of [timestamp, open, high, low, close, volume].
func parseCandles(data json.RawMessage) ([]Candle, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var rows [][]json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode candle rows: %w", err)
	}

	out := make([]Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("candle row %d: want 6 fields, got %d", i, len(row))
		}
		var ts string
		if err := json.Unmarshal(row[0], &ts); err != nil {
			return nil, fmt.Errorf("candle row %d timestamp: %w", i, err)
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("candle row %d timestamp %q: %w", i, ts, err)
		}

		var vals [5]float64
		for j := range vals {
			if err := json.Unmarshal(row[j+1], &vals[j]); err != nil {
				return nil, fmt.Errorf("candle row %d field %d: %w", i, j+1, err)
			}
		}
		out = append(out, Candle{
			Time:   t,
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: int64(vals[4]),
		})
	}
	return out, nil
}
