package smartconnect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.Handler) *SmartConnect {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		APIKey:          "key",
		RootURL:         srv.URL,
		ClientLocalIP:   "10.0.0.1",
		ClientMAC:       "aa:bb:cc:dd:ee:ff",
		RequestsPerSec:  1000,
		MaxRetryElapsed: 5 * time.Second,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func loginHandler(t *testing.T, profileCalls *atomic.Int32) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(routes["api.login"], func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["clientcode"] != "C123" || body["totp"] == "" {
			writeJSON(w, 200, map[string]any{"status": false, "message": "Invalid totp", "errorcode": "AB1050"})
			return
		}
		if r.Header.Get("X-PrivateKey") != "key" {
			t.Errorf("X-PrivateKey = %q", r.Header.Get("X-PrivateKey"))
		}
		writeJSON(w, 200, map[string]any{"status": true, "data": map[string]string{
			"jwtToken": "jwt-1", "refreshToken": "ref-1", "feedToken": "feed-1",
		}})
	})
	mux.HandleFunc(routes["api.user.profile"], func(w http.ResponseWriter, r *http.Request) {
		if profileCalls != nil {
			profileCalls.Add(1)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer jwt-1" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("refreshToken"); got != "ref-1" {
			t.Errorf("refreshToken query = %q", got)
		}
		writeJSON(w, 200, map[string]any{"status": true, "data": map[string]any{"clientcode": "C123", "name": "Test"}})
	})
	return mux
}

func TestGenerateSession(t *testing.T) {
	var calls atomic.Int32
	sc := newTestClient(t, loginHandler(t, &calls))

	prof, err := sc.GenerateSession(context.Background(), "C123", "1234", "000000")
	if err != nil {
		t.Fatalf("GenerateSession: %v", err)
	}
	if prof.ClientCode != "C123" {
		t.Errorf("profile = %+v", prof)
	}
	if sc.AccessToken() != "jwt-1" {
		t.Errorf("access token = %q", sc.AccessToken())
	}
	if calls.Load() != 1 {
		t.Errorf("profile calls = %d", calls.Load())
	}
}

func TestGenerateSession_Rejected(t *testing.T) {
	sc := newTestClient(t, loginHandler(t, nil))
	_, err := sc.GenerateSession(context.Background(), "WRONG", "1234", "000000")
	if !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("err = %v, want ErrLoginFailed", err)
	}
}

func TestGetCandleData(t *testing.T) {
	var got map[string]string
	sc := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != routes["api.candle.data"] || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"status":true,"message":"SUCCESS","errorcode":"","data":[
			["2026-03-02T09:15:00+05:30", 2450.5, 2455, 2448.25, 2452.1, 10234],
			["2026-03-02T09:20:00+05:30", 2452.1, 2460, 2451, 2459.95, 8800]
		]}`))
	}))

	from := time.Date(2026, 2, 20, 3, 45, 0, 0, time.UTC) // 09:15 IST
	to := time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC)
	candles, err := sc.GetCandleData(context.Background(), CandleParams{
		Exchange: "NSE", SymbolToken: "2885", Interval: FiveMinute, From: from, To: to,
	})
	if err != nil {
		t.Fatalf("GetCandleData: %v", err)
	}

	if got["fromdate"] != "2026-02-20 09:15" || got["todate"] != "2026-03-02 09:30" {
		t.Errorf("date range = %q → %q", got["fromdate"], got["todate"])
	}
	if got["interval"] != "FIVE_MINUTE" || got["symboltoken"] != "2885" || got["exchange"] != "NSE" {
		t.Errorf("params = %v", got)
	}
	if len(candles) != 2 {
		t.Fatalf("len = %d", len(candles))
	}
	c := candles[1]
	if c.Close != 2459.95 || c.High != 2460 || c.Volume != 8800 {
		t.Errorf("candle = %+v", c)
	}
	if !c.Time.Equal(time.Date(2026, 3, 2, 3, 50, 0, 0, time.UTC)) {
		t.Errorf("time = %v", c.Time)
	}
}

func TestGetCandleData_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	sc := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"status":true,"data":[]}`))
	}))

	candles, err := sc.GetCandleData(context.Background(), CandleParams{Exchange: "NSE", SymbolToken: "1", Interval: FiveMinute})
	if err != nil {
		t.Fatalf("GetCandleData: %v", err)
	}
	if len(candles) != 0 || calls.Load() != 2 {
		t.Errorf("candles=%d calls=%d", len(candles), calls.Load())
	}
}

func TestGetCandleData_APIErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	sc := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"status":false,"message":"Invalid Token","errorcode":"AG8001","data":null}`))
	}))

	_, err := sc.GetCandleData(context.Background(), CandleParams{Exchange: "NSE", SymbolToken: "1", Interval: FiveMinute})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode != "AG8001" {
		t.Fatalf("err = %v, want APIError AG8001", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestParseCandles_Malformed(t *testing.T) {
	for name, raw := range map[string]string{
		"short row": `[["2026-03-02T09:15:00+05:30", 1, 2, 3]]`,
		"bad time":  `[["09:15", 1, 2, 3, 4, 5]]`,
		"bad price": `[["2026-03-02T09:15:00+05:30", "x", 2, 3, 4, 5]]`,
	} {
		if _, err := parseCandles(json.RawMessage(raw)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if c, err := parseCandles(json.RawMessage(`null`)); err != nil || c != nil {
		t.Errorf("null data = %v, %v", c, err)
	}
}

func TestInterval(t *testing.T) {
	if FiveMinute.Duration() != 5*time.Minute {
		t.Errorf("FIVE_MINUTE = %v", FiveMinute.Duration())
	}
	if _, err := ParseInterval("SEVEN_MINUTE"); err == nil {
		t.Error("expected error for unknown interval")
	}
}
