package model

import "context"

// ── Port Interfaces ──
// These interfaces decouple the scan loop from concrete adapters (broker
// API, Redis, SQLite, HTTP sinks). Each adapter satisfies one or more.

// CandleSource fetches the historical series for one instrument, oldest first.
type CandleSource interface {
	Fetch(ctx context.Context, inst Instrument) ([]Candle, error)
}

// InstrumentResolver maps a trading name (e.g. "TCS") to its instrument.
type InstrumentResolver interface {
	Resolve(ctx context.Context, symbol string) (Instrument, error)
}

// SignalSink receives every actionable signal of a cycle.
type SignalSink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Publish delivers one signal. Implementations must honour ctx.
	Publish(ctx context.Context, sig Signal) error
}

// SignalReader reads persisted signals.
type SignalReader interface {
	// LatestSignals returns the newest signal per symbol.
	LatestSignals(ctx context.Context) ([]Signal, error)

	// SignalHistory returns up to limit signals for symbol, newest first.
	SignalHistory(ctx context.Context, symbol string, limit int) ([]Signal, error)
}
