// Package marketdata turns broker historical candles into the scanner's
// candle series.
package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"kama-scannerv1/internal/logger"
	"kama-scannerv1/internal/model"
	"kama-scannerv1/pkg/smartconnect"
)

// CandleAPI is the broker call the fetcher depends on. Satisfied by
// *smartconnect.SmartConnect and *smartconnect.Session.
type CandleAPI interface {
	GetCandleData(ctx context.Context, p smartconnect.CandleParams) ([]smartconnect.Candle, error)
}

// HistoryConfig controls the requested window.
type HistoryConfig struct {
	Interval smartconnect.Interval // default FIVE_MINUTE
	Lookback time.Duration         // default 10 days

	// IncludeForming keeps the last bar when it has not closed yet.
	IncludeForming bool
}

// History fetches a lookback window of candles per instrument. It implements
// model.CandleSource.
type History struct {
	api CandleAPI
	cfg HistoryConfig
	now func() time.Time
	log *slog.Logger
}

// NewHistory creates a History fetcher.
func NewHistory(api CandleAPI, cfg HistoryConfig) *History {
	if cfg.Interval == "" {
		cfg.Interval = smartconnect.FiveMinute
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 10 * 24 * time.Hour
	}
	return &History{api: api, cfg: cfg, now: time.Now, log: logger.Component("history")}
}

// Fetch returns the instrument's candles, oldest first, with duplicate
// timestamps collapsed to the last occurrence. The result always satisfies
// the indicator engine's strictly-increasing contract; repairs to the
// broker's ordering are logged as warnings.
func (h *History) Fetch(ctx context.Context, inst model.Instrument) ([]model.Candle, error) {
	now := h.now()
	raw, err := h.api.GetCandleData(ctx, smartconnect.CandleParams{
		Exchange:    inst.Exchange,
		SymbolToken: inst.Token,
		Interval:    h.cfg.Interval,
		From:        now.Add(-h.cfg.Lookback),
		To:          now,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", inst.Name, err)
	}

	out := make([]model.Candle, 0, len(raw))
	for _, c := range raw {
		out = append(out, model.Candle{
			Token:    inst.Token,
			Exchange: inst.Exchange,
			TS:       c.Time,
			Open:     model.Paise(c.Open),
			High:     model.Paise(c.High),
			Low:      model.Paise(c.Low),
			Close:    model.Paise(c.Close),
			Volume:   c.Volume,
		})
	}
	out, reordered, dropped := normalize(out)
	if reordered > 0 || dropped > 0 {
		h.log.Warn("broker returned unordered candles",
			"symbol", inst.Name, "reordered", reordered, "duplicates_dropped", dropped, "bars", len(out))
	}

	if !h.cfg.IncludeForming && len(out) > 0 {
		last := out[len(out)-1]
		if last.TS.Add(h.cfg.Interval.Duration()).After(now) {
			out = out[:len(out)-1]
		}
	}

	h.log.Debug("history fetched", "symbol", inst.Name, "bars", len(out))
	return out, nil
}

// normalize sorts by timestamp and keeps the last candle of any duplicate.
// reordered counts bars older than their predecessor on arrival; dropped
// counts the duplicates removed.
func normalize(cs []model.Candle) (out []model.Candle, reordered, dropped int) {
	for i := 1; i < len(cs); i++ {
		if cs[i].TS.Before(cs[i-1].TS) {
			reordered++
		}
	}
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].TS.Before(cs[j].TS) })
	out = cs[:0]
	for _, c := range cs {
		if n := len(out); n > 0 && out[n-1].TS.Equal(c.TS) {
			out[n-1] = c
			dropped++
			continue
		}
		out = append(out, c)
	}
	return out, reordered, dropped
}
