package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.CyclesTotal.Inc()
	m.SignalsTotal.WithLabelValues("BUY", "kama_chop").Inc()
	m.SignalsTotal.WithLabelValues("BUY", "kama_chop").Inc()

	if got := testutil.ToFloat64(m.CyclesTotal); got != 1 {
		t.Errorf("cycles = %v", got)
	}
	if got := testutil.ToFloat64(m.SignalsTotal.WithLabelValues("BUY", "kama_chop")); got != 2 {
		t.Errorf("signals = %v", got)
	}

	// A second set on a fresh registry must not collide.
	NewMetrics(prometheus.NewRegistry())
}

func TestObserveBreaker(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveBreaker(1)
	m.ObserveBreaker(2)
	m.ObserveBreaker(1)
	m.ObserveBreaker(0)

	if got := testutil.ToFloat64(m.RedisCircuitBreakerTrips); got != 2 {
		t.Errorf("trips = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RedisCircuitBreakerState); got != 0 {
		t.Errorf("state = %v, want 0", got)
	}
}

func TestHealth_NoDependencies(t *testing.T) {
	h := NewHealthStatus()
	report, code := h.Snapshot()
	if code != http.StatusOK || report.Status != "healthy" {
		t.Errorf("got %s/%d, want healthy/200", report.Status, code)
	}
	if report.LastCycleAt != "" {
		t.Errorf("LastCycleAt = %q before any cycle", report.LastCycleAt)
	}
}

func TestHealth_Statuses(t *testing.T) {
	tests := []struct {
		name       string
		redis      *bool
		sqlite     *bool
		wantStatus string
		wantCode   int
	}{
		{"all up", boolPtr(true), boolPtr(true), "healthy", 200},
		{"redis down", boolPtr(false), boolPtr(true), "degraded", 503},
		{"both down", boolPtr(false), boolPtr(false), "unhealthy", 503},
		{"sqlite only down", nil, boolPtr(false), "unhealthy", 503},
		{"sqlite only up", nil, boolPtr(true), "healthy", 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthStatus()
			if tt.redis != nil {
				h.RedisEnabled, h.RedisConnected = true, *tt.redis
			}
			if tt.sqlite != nil {
				h.SQLiteEnabled, h.SQLiteOK = true, *tt.sqlite
			}
			report, code := h.Snapshot()
			if report.Status != tt.wantStatus || code != tt.wantCode {
				t.Errorf("got %s/%d, want %s/%d", report.Status, code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}

func TestHealth_ServeHTTP(t *testing.T) {
	h := NewHealthStatus()
	h.SetMarketOpen(true)
	h.RecordCycle(time.Date(2025, 3, 3, 4, 50, 0, 0, time.UTC), 12, 1)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var report Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !report.MarketOpen || report.LastCycleSymbols != 12 || report.LastCycleErrors != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	if report.LastCycleAt != "2025-03-03T04:50:00Z" {
		t.Errorf("LastCycleAt = %q", report.LastCycleAt)
	}
}

func TestCheckSQLite(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	h := NewHealthStatus()
	h.CheckSQLite(context.Background(), db)
	if !h.SQLiteEnabled || !h.SQLiteOK {
		t.Errorf("expected sqlite ok, got enabled=%v ok=%v", h.SQLiteEnabled, h.SQLiteOK)
	}

	db.Close()
	h.CheckSQLite(context.Background(), db)
	if h.SQLiteOK {
		t.Error("expected sqlite not ok after close")
	}
}

func TestCheckRedis_Unreachable(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	h := NewHealthStatus()
	h.CheckRedis(context.Background(), rdb)
	if !h.RedisEnabled || h.RedisConnected {
		t.Errorf("expected redis enabled and disconnected, got enabled=%v connected=%v", h.RedisEnabled, h.RedisConnected)
	}
}

func boolPtr(v bool) *bool { return &v }
