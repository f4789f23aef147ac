// Package api serves the scanner's HTTP surface: latest signals, per-symbol
// evaluations and history, health, Prometheus metrics and the WebSocket feed.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"kama-scannerv1/internal/model"
)

// LatestSource is the in-process view of the last scan cycle.
type LatestSource interface {
	CycleAt() time.Time
	Signals() []model.Signal
	Evaluation(symbol string) (model.Signal, bool)
}

// EvaluationReader is implemented by stores that keep the latest evaluation
// of every symbol, NONE included. /signals/:symbol prefers it over the
// signal history after a restart.
type EvaluationReader interface {
	LatestEvaluations(ctx context.Context) ([]model.Signal, error)
}

// Deps wires the router. Every field is optional; missing handlers are not
// routed and missing sources answer 503.
type Deps struct {
	Latest  LatestSource
	Store   model.SignalReader
	Health  http.Handler
	Metrics http.Handler
	WS      http.HandlerFunc
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// NewRouter builds the gin engine.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	h := &handlers{deps: d}
	r.GET("/signals", h.signals)
	r.GET("/signals/:symbol", h.symbol)
	r.GET("/signals/:symbol/history", h.history)

	if d.Health != nil {
		r.GET("/healthz", gin.WrapH(d.Health))
	}
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}
	if d.WS != nil {
		r.GET("/ws", gin.WrapF(d.WS))
	}
	return r
}

type handlers struct {
	deps Deps
}

// signals returns the BUY/SELL signals of the last cycle.
func (h *handlers) signals(c *gin.Context) {
	var (
		sigs    []model.Signal
		cycleAt time.Time
	)
	switch {
	case h.deps.Latest != nil:
		cycleAt = h.deps.Latest.CycleAt()
		sigs = h.deps.Latest.Signals()
	case h.deps.Store != nil:
		all, err := h.deps.Store.LatestSignals(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		sigs = all
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no signal source"})
		return
	}

	if len(sigs) == 0 {
		body := gin.H{"message": "No signals generated in the last cycle"}
		if !cycleAt.IsZero() {
			body["cycle_at"] = cycleAt
		}
		c.JSON(http.StatusOK, body)
		return
	}

	body := gin.H{"count": len(sigs), "signals": sigs}
	if !cycleAt.IsZero() {
		body["cycle_at"] = cycleAt
	}
	c.JSON(http.StatusOK, body)
}

// symbol returns the latest evaluation of one symbol, NONE included.
func (h *handlers) symbol(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	if h.deps.Latest != nil {
		if sig, ok := h.deps.Latest.Evaluation(symbol); ok {
			c.JSON(http.StatusOK, sig)
			return
		}
	}
	if er, ok := h.deps.Store.(EvaluationReader); ok {
		evals, err := er.LatestEvaluations(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		for _, sig := range evals {
			if sig.Symbol == symbol {
				c.JSON(http.StatusOK, sig)
				return
			}
		}
	}
	if h.deps.Store != nil {
		hist, err := h.deps.Store.SignalHistory(c.Request.Context(), symbol, 1)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		if len(hist) > 0 {
			c.JSON(http.StatusOK, hist[0])
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "no evaluation for " + symbol})
}

// history returns persisted signals for a symbol, newest first.
func (h *handlers) history(c *gin.Context) {
	if h.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no signal store"})
		return
	}
	symbol := strings.ToUpper(c.Param("symbol"))

	limit := defaultHistoryLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	hist, err := h.deps.Store.SignalHistory(c.Request.Context(), symbol, limit)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if hist == nil {
		hist = []model.Signal{}
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "count": len(hist), "signals": hist})
}
