package instruments

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"kama-scannerv1/internal/model"
)

const master = `[
 {"token":"2885","symbol":"RELIANCE-EQ","name":"RELIANCE","expiry":"","strike":"-1.000000","lotsize":"1","instrumenttype":"","exch_seg":"NSE","tick_size":"5.000000"},
 {"token":"500325","symbol":"RELIANCE","name":"RELIANCE","expiry":"","strike":"-1.000000","lotsize":"1","instrumenttype":"","exch_seg":"BSE","tick_size":"5.000000"},
 {"token":"11536","symbol":"TCS-EQ","name":"TCS","expiry":"","strike":"-1.000000","lotsize":"1","instrumenttype":"","exch_seg":"NSE","tick_size":"5.000000"},
 {"token":"35001","symbol":"TCS26MARFUT","name":"TCS","expiry":"26MAR2026","strike":"-1.000000","lotsize":"175","instrumenttype":"FUTSTK","exch_seg":"NFO","tick_size":"10.000000"},
 {"token":"99926000","symbol":"Nifty 50","name":"NIFTY","expiry":"","strike":"-1.000000","lotsize":"1","instrumenttype":"AMXIDX","exch_seg":"NSE","tick_size":"0.000000"}
]`

type memCache struct {
	m    map[string]model.Instrument
	sets int
}

func (c *memCache) GetInstrument(_ context.Context, exchange, symbol string) (model.Instrument, bool, error) {
	inst, ok := c.m[exchange+":"+symbol]
	return inst, ok, nil
}

func (c *memCache) SetInstrument(_ context.Context, symbol string, inst model.Instrument, _ time.Duration) error {
	c.m[inst.Exchange+":"+symbol] = inst
	c.sets++
	return nil
}

func masterServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(master))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDecode_FiltersSegments(t *testing.T) {
	rows, err := Decode(strings.NewReader(master), "nse")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("len = %d, want 3 NSE rows", len(rows))
	}
	if rows[0].Token != "2885" || rows[0].TradingSymbol != "RELIANCE-EQ" || rows[0].TickSize != "5.000000" {
		t.Errorf("row = %+v", rows[0])
	}
}

func TestDecode_NotArray(t *testing.T) {
	if _, err := Decode(strings.NewReader(`{"token":"1"}`)); err == nil {
		t.Fatal("expected error for object input")
	}
}

func TestResolver_Resolve(t *testing.T) {
	var hits atomic.Int32
	srv := masterServer(t, &hits)
	cache := &memCache{m: map[string]model.Instrument{}}
	r := NewResolver(Config{URL: srv.URL}, cache)

	inst, err := r.Resolve(context.Background(), " reliance ")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if inst.Token != "2885" || inst.Exchange != "NSE" {
		t.Errorf("inst = %+v", inst)
	}

	// Served from the cache, then from the in-memory index.
	if _, err := r.Resolve(context.Background(), "RELIANCE"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve(context.Background(), "TCS"); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Errorf("master downloads = %d, want 1", hits.Load())
	}
	if cache.sets != 2 {
		t.Errorf("cache sets = %d, want 2", cache.sets)
	}
}

func TestResolver_IndexIsNotEquity(t *testing.T) {
	var hits atomic.Int32
	r := NewResolver(Config{URL: masterServer(t, &hits).URL}, nil)
	_, err := r.Resolve(context.Background(), "NIFTY")
	if !errors.Is(err, ErrSymbolNotFound) {
		t.Fatalf("err = %v, want ErrSymbolNotFound", err)
	}
}

func TestResolver_RefreshAfterTTL(t *testing.T) {
	var hits atomic.Int32
	r := NewResolver(Config{URL: masterServer(t, &hits).URL, TTL: time.Hour}, nil)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	if _, err := r.Resolve(context.Background(), "TCS"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := r.Resolve(context.Background(), "TCS"); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 2 {
		t.Errorf("downloads = %d, want 2", hits.Load())
	}
}

func TestResolver_ResolveAllSkipsUnknown(t *testing.T) {
	var hits atomic.Int32
	r := NewResolver(Config{URL: masterServer(t, &hits).URL}, nil)
	got, err := r.ResolveAll(context.Background(), []string{"TCS", "NOPE", "RELIANCE"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "TCS" || got[1].Name != "RELIANCE" {
		t.Fatalf("got %+v", got)
	}
}

func TestResolver_NotFoundStatusIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	r := NewResolver(Config{URL: srv.URL}, nil)
	_, err := r.Resolve(context.Background(), "TCS")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}
