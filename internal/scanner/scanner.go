// Package scanner runs the periodic scan: for every configured symbol it
// fetches history, computes indicators, classifies the latest bar and fans
// the result out to storage and signal sinks.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kama-scannerv1/internal/indicator"
	"kama-scannerv1/internal/logger"
	"kama-scannerv1/internal/markethours"
	"kama-scannerv1/internal/metrics"
	"kama-scannerv1/internal/model"
	sqlitestore "kama-scannerv1/internal/store/sqlite"
	"kama-scannerv1/internal/strategy"
)

// EvaluationStore records every evaluation, NONE included.
type EvaluationStore interface {
	SaveEvaluation(ctx context.Context, sig model.Signal) error
}

// Config controls scheduling and fan-out.
type Config struct {
	Symbols  []string
	Interval time.Duration // default 5m

	// SettleDelay waits after each boundary so the broker has closed the bar.
	SettleDelay time.Duration

	// Concurrency bounds simultaneous symbol evaluations (default 4).
	Concurrency int

	// OutsideHours scans even when the NSE session is closed.
	OutsideHours bool
	Calendar     *markethours.Calendar

	// ScanOnStart runs one cycle immediately instead of waiting for the
	// first boundary.
	ScanOnStart bool

	// PublishTimeout bounds each sink delivery (default 10s).
	PublishTimeout time.Duration
}

// Deps are the collaborators of a Scanner. Evaluations, Series, Metrics and
// Health are optional.
type Deps struct {
	Resolver    model.InstrumentResolver
	Source      model.CandleSource
	Engine      *indicator.Engine
	Classifier  *strategy.Classifier
	Sinks       []model.SignalSink
	Evaluations EvaluationStore
	Series      chan<- sqlitestore.Series
	Metrics     *metrics.Metrics
	Health      *metrics.HealthStatus
}

// Scanner evaluates the configured symbols once per interval.
type Scanner struct {
	cfg    Config
	deps   Deps
	latest *Latest
	now    func() time.Time
	log    *slog.Logger
}

// CycleReport summarises one cycle.
type CycleReport struct {
	Start    time.Time
	Duration time.Duration
	Symbols  int
	Errors   int
	Signals  []model.Signal // BUY/SELL only
}

// New creates a Scanner.
func New(cfg Config, deps Deps) (*Scanner, error) {
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("scanner: no symbols configured")
	}
	if deps.Resolver == nil || deps.Source == nil || deps.Engine == nil || deps.Classifier == nil {
		return nil, errors.New("scanner: resolver, source, engine and classifier are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Calendar == nil {
		cfg.Calendar = markethours.Default
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	return &Scanner{
		cfg:    cfg,
		deps:   deps,
		latest: NewLatest(),
		now:    time.Now,
		log:    logger.Component("scanner"),
	}, nil
}

// Latest exposes the in-memory results of the last cycle.
func (s *Scanner) Latest() *Latest { return s.latest }

// Run scans on every interval boundary until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	if s.cfg.ScanOnStart {
		s.tick(ctx)
	}
	for {
		next := markethours.NextBoundary(s.now(), s.cfg.Interval).Add(s.cfg.SettleDelay)
		s.log.Info("next scan scheduled", "at", next.In(markethours.IST).Format("15:04:05"))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		s.tick(ctx)
	}
}

func (s *Scanner) tick(ctx context.Context) {
	now := s.now()
	open := s.cfg.Calendar.IsMarketOpen(now)
	if s.deps.Metrics != nil {
		if open {
			s.deps.Metrics.MarketState.Set(1)
		} else {
			s.deps.Metrics.MarketState.Set(0)
		}
	}
	if s.deps.Health != nil {
		s.deps.Health.SetMarketOpen(open)
	}

	if !open && !s.cfg.OutsideHours {
		s.log.Info("market closed, skipping cycle", "status", s.cfg.Calendar.StatusString(now))
		if s.deps.Metrics != nil {
			s.deps.Metrics.CyclesSkipped.Inc()
		}
		return
	}
	s.RunCycle(ctx)
}

// RunCycle evaluates every symbol once. Per-symbol failures are logged and
// counted; they never abort the cycle.
func (s *Scanner) RunCycle(ctx context.Context) CycleReport {
	start := s.now()
	report := CycleReport{Start: start, Symbols: len(s.cfg.Symbols)}

	var (
		mu    sync.Mutex
		evals = make([]model.Signal, 0, len(s.cfg.Symbols))
	)

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, symbol := range s.cfg.Symbols {
		symbol := symbol
		g.Go(func() error {
			sctx := logger.WithTraceID(ctx, logger.GenerateTraceID(symbol, start))
			sig, err := s.evaluate(sctx, symbol)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors++
				s.log.Warn("evaluation failed", append(logger.LogWithTrace(sctx), "symbol", symbol, "err", err)...)
				return nil
			}
			evals = append(evals, sig)
			if sig.Actionable() {
				report.Signals = append(report.Signals, sig)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.latest.Commit(start, evals)
	report.Duration = s.now().Sub(start)

	if m := s.deps.Metrics; m != nil {
		m.CyclesTotal.Inc()
		m.CycleDuration.Observe(report.Duration.Seconds())
		m.LastCycleTimestamp.Set(float64(s.now().Unix()))
	}
	if s.deps.Health != nil {
		s.deps.Health.RecordCycle(start, report.Symbols, report.Errors)
	}

	s.log.Info("cycle complete",
		"symbols", report.Symbols,
		"errors", report.Errors,
		"signals", len(report.Signals),
		"duration", report.Duration.Round(time.Millisecond).String(),
	)
	return report
}

// evaluate runs the full pipeline for one symbol.
func (s *Scanner) evaluate(ctx context.Context, symbol string) (model.Signal, error) {
	m := s.deps.Metrics
	result := "error"
	if m != nil {
		defer func() { m.EvaluationsTotal.WithLabelValues(result).Inc() }()
	}

	inst, err := s.deps.Resolver.Resolve(ctx, symbol)
	if err != nil {
		return model.Signal{}, fmt.Errorf("resolve: %w", err)
	}

	fetchStart := time.Now()
	series, err := s.deps.Source.Fetch(ctx, inst)
	if m != nil {
		m.FetchDuration.Observe(time.Since(fetchStart).Seconds())
	}
	if err != nil {
		if m != nil {
			m.FetchErrorsTotal.Inc()
		}
		return model.Signal{}, err
	}

	computeStart := time.Now()
	rows, err := s.deps.Engine.Compute(series)
	if err != nil {
		return model.Signal{}, fmt.Errorf("compute: %w", err)
	}
	sig := s.deps.Classifier.Classify(inst, rows)
	if m != nil {
		m.ComputeDuration.Observe(time.Since(computeStart).Seconds())
	}
	sig.GeneratedAt = s.now()
	result = "ok"

	if m != nil {
		m.SignalsTotal.WithLabelValues(string(sig.Action), sig.Variant).Inc()
	}
	log := s.log.With(logger.LogWithTrace(ctx)...)
	log.Debug("evaluated",
		"symbol", symbol,
		"bars", len(rows),
		"signal", string(sig.Action),
		"close", sig.Close,
	)

	if s.deps.Evaluations != nil {
		if err := s.deps.Evaluations.SaveEvaluation(ctx, sig); err != nil {
			log.Warn("save evaluation failed", "symbol", symbol, "err", err)
		}
	}
	if s.deps.Series != nil {
		select {
		case s.deps.Series <- sqlitestore.Series{Symbol: symbol, Rows: rows}:
		case <-ctx.Done():
		}
	}

	if sig.Actionable() {
		if s.latest.markPublished(sig) {
			s.publish(ctx, sig)
		} else {
			log.Debug("signal already published for bar", "symbol", symbol, "ts", sig.TS)
		}
	}
	return sig, nil
}

// publish delivers sig to every sink; failures are logged per sink.
func (s *Scanner) publish(ctx context.Context, sig model.Signal) {
	log := s.log.With(logger.LogWithTrace(ctx)...)
	for _, sink := range s.deps.Sinks {
		pctx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
		err := sink.Publish(pctx, sig)
		cancel()
		if err != nil {
			log.Warn("publish failed", "sink", sink.Name(), "symbol", sig.Symbol, "err", err)
			if s.deps.Metrics != nil {
				s.deps.Metrics.PublishErrorsTotal.WithLabelValues(sink.Name()).Inc()
			}
			continue
		}
		log.Info("signal published",
			"sink", sink.Name(),
			"symbol", sig.Symbol,
			"signal", string(sig.Action),
			"ts", sig.TS,
		)
	}
}
