package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"kama-scannerv1/internal/model"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeLatest struct {
	at    time.Time
	sigs  []model.Signal
	evals map[string]model.Signal
}

func (f fakeLatest) CycleAt() time.Time      { return f.at }
func (f fakeLatest) Signals() []model.Signal { return f.sigs }
func (f fakeLatest) Evaluation(s string) (model.Signal, bool) {
	sig, ok := f.evals[s]
	return sig, ok
}

type fakeStore struct {
	latest  []model.Signal
	history map[string][]model.Signal
	err     error

	gotLimit int
}

func (f *fakeStore) LatestSignals(context.Context) ([]model.Signal, error) { return f.latest, f.err }
func (f *fakeStore) SignalHistory(_ context.Context, symbol string, limit int) ([]model.Signal, error) {
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	h := f.history[symbol]
	if len(h) > limit {
		h = h[:limit]
	}
	return h, nil
}

func ptr(v float64) *float64 { return &v }

var cycleAt = time.Date(2025, 3, 3, 4, 50, 0, 0, time.UTC)

func tcsBuy() model.Signal {
	return model.Signal{
		Symbol: "TCS", Token: "11536", Exchange: "NSE", Action: model.ActionBuy,
		Variant: "kama_chop", TS: cycleAt.Add(-5 * time.Minute), Close: 112,
		StopLoss: ptr(104), Target: ptr(118.67),
	}
}

func do(t *testing.T, r http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v (%s)", path, err, rec.Body.String())
	}
	return rec, body
}

// ─── /signals ───

func TestSignals_LastCycle(t *testing.T) {
	r := NewRouter(Deps{Latest: fakeLatest{at: cycleAt, sigs: []model.Signal{tcsBuy()}}})
	rec, body := do(t, r, "/signals")

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if body["count"] != float64(1) {
		t.Errorf("count = %v", body["count"])
	}
	sigs := body["signals"].([]any)
	first := sigs[0].(map[string]any)
	if first["symbol"] != "TCS" || first["signal"] != "BUY" || first["target"] != 118.67 {
		t.Errorf("unexpected signal %v", first)
	}
	if body["cycle_at"] != "2025-03-03T04:50:00Z" {
		t.Errorf("cycle_at = %v", body["cycle_at"])
	}
}

func TestSignals_NoneMessage(t *testing.T) {
	r := NewRouter(Deps{Latest: fakeLatest{at: cycleAt}})
	rec, body := do(t, r, "/signals")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if body["message"] != "No signals generated in the last cycle" {
		t.Errorf("message = %v", body["message"])
	}
	if _, ok := body["signals"]; ok {
		t.Error("signals key present with no signals")
	}
}

func TestSignals_StoreFallback(t *testing.T) {
	r := NewRouter(Deps{Store: &fakeStore{latest: []model.Signal{tcsBuy()}}})
	_, body := do(t, r, "/signals")
	if body["count"] != float64(1) {
		t.Errorf("count = %v", body["count"])
	}

	r = NewRouter(Deps{Store: &fakeStore{err: errors.New("redis down")}})
	rec, _ := do(t, r, "/signals")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}

func TestSignals_NoSource(t *testing.T) {
	rec, _ := do(t, NewRouter(Deps{}), "/signals")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}

// ─── /signals/:symbol ───

func TestSymbol(t *testing.T) {
	none := model.Signal{Symbol: "INFY", Action: model.ActionNone, Close: 1500}
	latest := fakeLatest{evals: map[string]model.Signal{"INFY": none}}
	store := &fakeStore{history: map[string][]model.Signal{"TCS": {tcsBuy()}}}
	r := NewRouter(Deps{Latest: latest, Store: store})

	tests := []struct {
		path       string
		wantCode   int
		wantSignal any
	}{
		{"/signals/infy", 200, "NONE"},
		{"/signals/TCS", 200, "BUY"}, // from the store
		{"/signals/WIPRO", 404, nil},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec, body := do(t, r, tt.path)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if body["signal"] != tt.wantSignal {
				t.Errorf("signal = %v, want %v", body["signal"], tt.wantSignal)
			}
		})
	}
}

type evalStore struct {
	fakeStore
	evals []model.Signal
}

func (f *evalStore) LatestEvaluations(context.Context) ([]model.Signal, error) { return f.evals, f.err }

func TestSymbol_PrefersStoredEvaluation(t *testing.T) {
	store := &evalStore{
		fakeStore: fakeStore{history: map[string][]model.Signal{"TCS": {tcsBuy()}}},
		evals:     []model.Signal{{Symbol: "TCS", Action: model.ActionNone, Close: 113}},
	}
	r := NewRouter(Deps{Store: store})

	_, body := do(t, r, "/signals/TCS")
	if body["signal"] != "NONE" {
		t.Errorf("signal = %v, want NONE from stored evaluations", body["signal"])
	}
	// Symbols without a stored evaluation fall through to the history.
	store.evals = nil
	_, body = do(t, r, "/signals/TCS")
	if body["signal"] != "BUY" {
		t.Errorf("signal = %v, want BUY from history", body["signal"])
	}

	store.err = errors.New("redis down")
	rec, _ := do(t, r, "/signals/TCS")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}

func TestSymbol_NoneHasNullLevels(t *testing.T) {
	none := model.Signal{Symbol: "INFY", Action: model.ActionNone}
	r := NewRouter(Deps{Latest: fakeLatest{evals: map[string]model.Signal{"INFY": none}}})
	_, body := do(t, r, "/signals/INFY")
	if v, ok := body["stop_loss"]; !ok || v != nil {
		t.Errorf("stop_loss = %v (present=%v), want null", v, ok)
	}
}

// ─── /signals/:symbol/history ───

func TestHistory(t *testing.T) {
	store := &fakeStore{history: map[string][]model.Signal{"TCS": {tcsBuy(), tcsBuy()}}}
	r := NewRouter(Deps{Store: store})

	rec, body := do(t, r, "/signals/tcs/history?limit=1")
	if rec.Code != 200 || body["count"] != float64(1) || body["symbol"] != "TCS" {
		t.Errorf("code=%d body=%v", rec.Code, body)
	}

	do(t, r, "/signals/TCS/history")
	if store.gotLimit != defaultHistoryLimit {
		t.Errorf("default limit = %d", store.gotLimit)
	}
	do(t, r, "/signals/TCS/history?limit=999999")
	if store.gotLimit != maxHistoryLimit {
		t.Errorf("capped limit = %d", store.gotLimit)
	}

	rec, _ = do(t, r, "/signals/TCS/history?limit=zero")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", rec.Code)
	}

	_, body = do(t, r, "/signals/WIPRO/history")
	if sigs, ok := body["signals"].([]any); !ok || len(sigs) != 0 {
		t.Errorf("signals = %v, want empty list", body["signals"])
	}

	rec, _ = do(t, NewRouter(Deps{}), "/signals/TCS/history")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503 without store", rec.Code)
	}
}

// ─── Wrapped handlers ───

func TestWrappedHandlers(t *testing.T) {
	health := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})
	r := NewRouter(Deps{Health: health})

	_, body := do(t, r, "/healthz")
	if body["status"] != "healthy" {
		t.Errorf("healthz = %v", body)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("/metrics without handler = %d, want 404", rec.Code)
	}
}
