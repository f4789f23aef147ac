package sqlite

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"kama-scannerv1/internal/indicator"
	"kama-scannerv1/internal/model"
)

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scanner.db")
	w, err := New(Config{DBPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w, path
}

var t0 = time.Date(2026, 3, 2, 3, 45, 0, 0, time.UTC)

func testRows() []indicator.Row {
	rows := make([]indicator.Row, 3)
	for i := range rows {
		c := int64(10000 + 100*i)
		rows[i] = indicator.Row{
			Candle: model.Candle{
				Token: "11536", Exchange: "NSE", TS: t0.Add(time.Duration(i) * 5 * time.Minute),
				Open: c, High: c + 50, Low: c - 50, Close: c, Volume: int64(1000 + i),
			},
			KAMAShort: 100 + float64(i), KAMALong: 100,
			ShortTrend: indicator.Rising, LongTrend: indicator.Falling,
			ATR: math.NaN(), Chop: 45.5, ADX: math.NaN(), PlusDI: math.NaN(), MinusDI: math.NaN(),
			SMAFast: math.NaN(), SMASlow: math.NaN(),
		}
	}
	return rows
}

func TestWriteSeries_RoundTrip(t *testing.T) {
	w, path := newTestWriter(t)
	ctx := context.Background()

	if err := w.WriteSeries(ctx, Series{Symbol: "TCS", Rows: testRows()}); err != nil {
		t.Fatalf("WriteSeries: %v", err)
	}
	// Re-writing the same bars replaces them.
	if err := w.WriteSeries(ctx, Series{Symbol: "TCS", Rows: testRows()}); err != nil {
		t.Fatalf("WriteSeries again: %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	candles, err := r.ReadCandles(ctx, "NSE", "11536", t0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 2 || candles[0].Close != 10100 || candles[1].Volume != 1002 {
		t.Fatalf("candles = %+v", candles)
	}
	if !candles[0].TS.Equal(t0.Add(5 * time.Minute)) {
		t.Errorf("ts = %v", candles[0].TS)
	}

	rows, err := r.ReadRows(ctx, "TCS", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d", len(rows))
	}
	last := rows[1]
	if last.KAMAShort != 102 || last.ShortTrend != indicator.Rising || last.LongTrend != indicator.Falling {
		t.Errorf("row = %+v", last)
	}
	if !math.IsNaN(last.ATR) || last.Chop != 45.5 {
		t.Errorf("atr/chop = %v/%v", last.ATR, last.Chop)
	}
}

func TestRun_DrainsChannel(t *testing.T) {
	w, _ := newTestWriter(t)
	ch := make(chan Series, 2)
	ch <- Series{Symbol: "TCS", Rows: testRows()}
	ch <- Series{Symbol: "EMPTY"}
	close(ch)

	w.Run(context.Background(), ch)

	rows, err := w.Reader().ReadRows(context.Background(), "TCS", 10)
	if err != nil || len(rows) != 3 {
		t.Fatalf("rows = %d, %v", len(rows), err)
	}
}

func TestSignals(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()
	r := w.Reader()

	stop, target := 104.0, 118.67
	gen := t0.Add(time.Hour)
	signals := []model.Signal{
		{Symbol: "TCS", Token: "11536", Exchange: "NSE", Action: model.ActionBuy, Variant: "kama_chop",
			TS: t0, Close: 112, KAMAShort: 110.3, KAMALong: 110.3, Chop: 42.78, ADX: math.NaN(), ATR: 2.67,
			StopLoss: &stop, Target: &target, GeneratedAt: gen},
		{Symbol: "TCS", Token: "11536", Exchange: "NSE", Action: model.ActionSell, Variant: "kama_chop",
			TS: t0.Add(5 * time.Minute), Close: 108, KAMAShort: 109, KAMALong: 109, Chop: 40, ADX: math.NaN(), ATR: 2.5,
			StopLoss: &target, Target: &stop, GeneratedAt: gen},
		{Symbol: "INFY", Token: "1594", Exchange: "NSE", Action: model.ActionBuy, Variant: "sma_deviation",
			TS: t0, Close: 1500, KAMAShort: math.NaN(), KAMALong: math.NaN(), Chop: math.NaN(), ADX: math.NaN(),
			ATR: math.NaN(), GeneratedAt: gen},
	}
	for _, s := range signals {
		if err := w.Publish(ctx, s); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	// Same symbol/variant/bar replaces.
	if err := w.Publish(ctx, signals[2]); err != nil {
		t.Fatal(err)
	}

	latest, err := r.LatestSignals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 2 {
		t.Fatalf("latest = %+v", latest)
	}
	if latest[0].Symbol != "INFY" || latest[0].StopLoss != nil || !math.IsNaN(latest[0].Chop) {
		t.Errorf("INFY = %+v", latest[0])
	}
	if latest[1].Symbol != "TCS" || latest[1].Action != model.ActionSell {
		t.Errorf("TCS latest = %+v", latest[1])
	}

	hist, err := r.SignalHistory(ctx, "TCS", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[1].Action != model.ActionBuy || *hist[1].StopLoss != 104 || *hist[1].Target != 118.67 {
		t.Fatalf("history = %+v", hist)
	}
	if !hist[1].GeneratedAt.Equal(gen) {
		t.Errorf("generated_at = %v", hist[1].GeneratedAt)
	}
}

func TestReaderFromWriter_CloseKeepsConnection(t *testing.T) {
	w, _ := newTestWriter(t)
	r := w.Reader()
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.DB().Ping(); err != nil {
		t.Fatalf("writer connection closed: %v", err)
	}
}
