package marketdata

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"kama-scannerv1/internal/logger"
	"kama-scannerv1/internal/model"
	"kama-scannerv1/pkg/smartconnect"
)

type fakeAPI struct {
	candles []smartconnect.Candle
	err     error
	got     smartconnect.CandleParams
}

func (f *fakeAPI) GetCandleData(_ context.Context, p smartconnect.CandleParams) ([]smartconnect.Candle, error) {
	f.got = p
	return f.candles, f.err
}

var (
	ist  = time.FixedZone("IST", 5*3600+1800)
	inst = model.Instrument{Token: "11536", Exchange: "NSE", Name: "TCS", TradingSymbol: "TCS-EQ"}
)

func at(hh, mm int) time.Time { return time.Date(2026, 3, 2, hh, mm, 0, 0, ist) }

func TestHistory_FetchConvertsAndDropsForming(t *testing.T) {
	api := &fakeAPI{candles: []smartconnect.Candle{
		{Time: at(9, 15), Open: 3500, High: 3510.5, Low: 3495.25, Close: 3505.05, Volume: 100},
		{Time: at(9, 20), Open: 3505, High: 3512, Low: 3501, Close: 3511, Volume: 80},
		{Time: at(9, 25), Open: 3511, High: 3511, Low: 3511, Close: 3511, Volume: 0},
	}}
	h := NewHistory(api, HistoryConfig{})
	h.now = func() time.Time { return at(9, 27) }

	got, err := h.Fetch(context.Background(), inst)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (forming bar dropped)", len(got))
	}
	c := got[0]
	if c.High != 351050 || c.Low != 349525 || c.Close != 350505 || c.Token != "11536" || c.Exchange != "NSE" {
		t.Errorf("candle = %+v", c)
	}

	if api.got.Interval != smartconnect.FiveMinute || api.got.SymbolToken != "11536" {
		t.Errorf("params = %+v", api.got)
	}
	if d := api.got.To.Sub(api.got.From); d != 10*24*time.Hour {
		t.Errorf("lookback = %v", d)
	}
}

func TestHistory_IncludeForming(t *testing.T) {
	api := &fakeAPI{candles: []smartconnect.Candle{{Time: at(9, 25), Close: 1}}}
	h := NewHistory(api, HistoryConfig{IncludeForming: true})
	h.now = func() time.Time { return at(9, 27) }

	got, err := h.Fetch(context.Background(), inst)
	if err != nil || len(got) != 1 {
		t.Fatalf("got %d, %v", len(got), err)
	}
}

func TestHistory_SortsAndDedupes(t *testing.T) {
	api := &fakeAPI{candles: []smartconnect.Candle{
		{Time: at(9, 20), Close: 2},
		{Time: at(9, 15), Close: 1},
		{Time: at(9, 20), Close: 3},
	}}
	var buf bytes.Buffer
	h := NewHistory(api, HistoryConfig{})
	h.now = func() time.Time { return at(10, 0) }
	h.log = logger.New(&buf, "test", slog.LevelDebug)

	got, err := h.Fetch(context.Background(), inst)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Close != 100 || got[1].Close != 300 {
		t.Fatalf("got %+v", got)
	}

	out := buf.String()
	for _, want := range []string{`"level":"WARN"`, `"reordered":1`, `"duplicates_dropped":1`, `"symbol":"TCS"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %s:\n%s", want, out)
		}
	}
}

func TestHistory_OrderedInputLogsNoWarning(t *testing.T) {
	api := &fakeAPI{candles: []smartconnect.Candle{
		{Time: at(9, 15), Close: 1},
		{Time: at(9, 20), Close: 2},
	}}
	var buf bytes.Buffer
	h := NewHistory(api, HistoryConfig{})
	h.now = func() time.Time { return at(10, 0) }
	h.log = logger.New(&buf, "test", slog.LevelDebug)

	if _, err := h.Fetch(context.Background(), inst); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), `"level":"WARN"`) {
		t.Errorf("unexpected warning:\n%s", buf.String())
	}
}

func TestNormalize_Counts(t *testing.T) {
	cs := []model.Candle{
		{TS: at(9, 25)}, {TS: at(9, 15)}, {TS: at(9, 20)}, {TS: at(9, 20)}, {TS: at(9, 15)},
	}
	out, reordered, dropped := normalize(cs)
	if len(out) != 3 || reordered != 2 || dropped != 2 {
		t.Fatalf("len=%d reordered=%d dropped=%d, want 3/2/2", len(out), reordered, dropped)
	}
}

func TestHistory_Error(t *testing.T) {
	boom := errors.New("boom")
	h := NewHistory(&fakeAPI{err: boom}, HistoryConfig{})
	if _, err := h.Fetch(context.Background(), inst); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}
