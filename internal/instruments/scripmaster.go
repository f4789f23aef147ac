// Package instruments resolves NSE trading names to SmartAPI symbol tokens
// using the broker's published scrip master.
package instruments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"kama-scannerv1/internal/model"
)

// DefaultScripMasterURL is Angel One's public instrument list.
const DefaultScripMasterURL = "https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json"

// equitySuffix marks cash-segment equity rows in the symbol column.
const equitySuffix = "-EQ"

// scripRow mirrors one object of the scrip master array.
type scripRow struct {
	Token          string `json:"token"`
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	InstrumentType string `json:"instrumenttype"`
	ExchSeg        string `json:"exch_seg"`
	LotSize        string `json:"lotsize"`
	TickSize       string `json:"tick_size"`
}

// Download fetches the scrip master and keeps rows whose exchange segment
// is in segments (all rows when empty). The array is decoded one element at
// a time; the full file runs to tens of megabytes.
func Download(ctx context.Context, client *http.Client, url string, segments ...string) ([]model.Instrument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrip master: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}
	return Decode(resp.Body, segments...)
}

// Decode parses a scrip master JSON array from r.
func Decode(r io.Reader, segments ...string) ([]model.Instrument, error) {
	keep := make(map[string]bool, len(segments))
	for _, s := range segments {
		keep[strings.ToUpper(s)] = true
	}

	dec := json.NewDecoder(r)
	if tok, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("scrip master: %w", err)
	} else if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("scrip master: expected array, got %v", tok)
	}

	var out []model.Instrument
	for dec.More() {
		var row scripRow
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("scrip master row %d: %w", len(out), err)
		}
		if len(keep) > 0 && !keep[strings.ToUpper(row.ExchSeg)] {
			continue
		}
		out = append(out, model.Instrument{
			Token:          row.Token,
			Exchange:       row.ExchSeg,
			TradingSymbol:  row.Symbol,
			Name:           row.Name,
			InstrumentType: row.InstrumentType,
			LotSize:        row.LotSize,
			TickSize:       row.TickSize,
		})
	}
	return out, nil
}

// StatusError is returned for a non-200 scrip master response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return "scrip master: non-200 status code: " + http.StatusText(e.StatusCode)
}

// IsEquity reports whether inst is a cash-segment equity row.
func IsEquity(inst model.Instrument) bool {
	return strings.HasSuffix(strings.ToUpper(inst.TradingSymbol), equitySuffix)
}
