package redis

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"kama-scannerv1/internal/model"
)

func TestKeys(t *testing.T) {
	if got := StreamKey("TCS"); got != "signal:TCS" {
		t.Errorf("StreamKey = %q", got)
	}
	if got := ChannelKey("TCS"); got != "pub:signal:TCS" {
		t.Errorf("ChannelKey = %q", got)
	}
	if got := instrumentKey("nse", "tcs"); got != "instrument:NSE:TCS" {
		t.Errorf("instrumentKey = %q", got)
	}
}

func TestDecodeSignals_SkipsCorrupt(t *testing.T) {
	good := model.Signal{Symbol: "TCS", Action: model.ActionSell, ADX: math.NaN()}
	raw := map[string]string{
		"TCS":  string(good.JSON()),
		"INFY": "{not json",
	}
	got := decodeSignals(raw, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if len(got) != 1 || got[0].Symbol != "TCS" || got[0].Action != model.ActionSell {
		t.Fatalf("got %+v", got)
	}
}

// TestStore_Integration runs against a real server when TEST_REDIS_ADDR is set.
func TestStore_Integration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	s, err := New(Config{Addr: addr, DB: 15})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()
	s.Client().FlushDB(ctx)

	stop, target := 104.0, 118.67
	sig := model.Signal{Symbol: "TCS", Action: model.ActionBuy, Close: 112, StopLoss: &stop, Target: &target,
		KAMAShort: 110, KAMALong: 110, Chop: 42, ADX: math.NaN(), ATR: 2.6}
	if err := s.Publish(ctx, sig); err != nil {
		t.Fatal(err)
	}

	latest, err := s.LatestSignals(ctx)
	if err != nil || len(latest) != 1 || *latest[0].Target != 118.67 {
		t.Fatalf("latest = %+v, %v", latest, err)
	}
	hist, err := s.SignalHistory(ctx, "TCS", 10)
	if err != nil || len(hist) != 1 {
		t.Fatalf("history = %+v, %v", hist, err)
	}

	inst := model.Instrument{Token: "11536", Exchange: "NSE", Name: "TCS", TradingSymbol: "TCS-EQ"}
	if err := s.SetInstrument(ctx, "TCS", inst, time.Minute); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.GetInstrument(ctx, "NSE", "TCS")
	if err != nil || !ok || got.Token != "11536" {
		t.Fatalf("instrument = %+v, %v, %v", got, ok, err)
	}
	if _, ok, _ := s.GetInstrument(ctx, "NSE", "NOPE"); ok {
		t.Error("unexpected cache hit")
	}
}
