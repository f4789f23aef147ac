package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"kama-scannerv1/internal/model"
)

const (
	// signalStreamMaxLen keeps roughly a month of five-minute signals.
	signalStreamMaxLen = 2000

	keyLatestSignals     = "signals:latest"
	keyLatestEvaluations = "evaluations:latest"
	signalChannelPrefix  = "pub:signal:"
)

// StreamKey returns the Redis stream of a symbol's signals.
func StreamKey(symbol string) string { return "signal:" + symbol }

// ChannelKey returns the pub/sub channel of a symbol's signals.
func ChannelKey(symbol string) string { return signalChannelPrefix + symbol }

func instrumentKey(exchange, symbol string) string {
	return "instrument:" + strings.ToUpper(exchange) + ":" + strings.ToUpper(symbol)
}

// Config configures the Redis store.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	// Breaker settings; zero values use 5 failures / 10s.
	MaxFailures  int
	ResetTimeout time.Duration
}

// Store publishes signals to Redis and caches resolved instruments.
// Every call goes through a CircuitBreaker so a Redis outage degrades to
// fast ErrCircuitOpen failures instead of stalling the scan loop.
type Store struct {
	client  *goredis.Client
	breaker *CircuitBreaker
	log     *slog.Logger
}

// New creates a Store and pings the server.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout == 0 {
		cfg.ResetTimeout = 10 * time.Second
	}

	log := slog.With("component", "redis")
	log.Info("connected", "addr", cfg.Addr)
	return &Store{
		client:  client,
		breaker: NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		log:     log,
	}, nil
}

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// Breaker returns the store's circuit breaker.
func (s *Store) Breaker() *CircuitBreaker { return s.breaker }

// Close releases the connection pool.
func (s *Store) Close() error { return s.client.Close() }

// Name implements model.SignalSink.
func (s *Store) Name() string { return "redis" }

// Publish implements model.SignalSink: XADD to the symbol's stream, HSET
// into the latest-signal hash and PUBLISH on the symbol's channel, in one
// pipeline.
func (s *Store) Publish(ctx context.Context, sig model.Signal) error {
	data := string(sig.JSON())
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		pipe := s.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: StreamKey(sig.Symbol),
			MaxLen: signalStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.HSet(ctx, keyLatestSignals, sig.Symbol, data)
		pipe.Publish(ctx, ChannelKey(sig.Symbol), data)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis publish %s: %w", sig.Symbol, err)
		}
		return nil
	})
}

// SaveEvaluation records the latest evaluation of a symbol, NONE included.
func (s *Store) SaveEvaluation(ctx context.Context, sig model.Signal) error {
	data := string(sig.JSON())
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.client.HSet(ctx, keyLatestEvaluations, sig.Symbol, data).Err()
	})
}

// LatestSignals returns the newest actionable signal per symbol.
func (s *Store) LatestSignals(ctx context.Context) ([]model.Signal, error) {
	return s.readHash(ctx, keyLatestSignals)
}

// LatestEvaluations returns the newest evaluation per symbol.
func (s *Store) LatestEvaluations(ctx context.Context) ([]model.Signal, error) {
	return s.readHash(ctx, keyLatestEvaluations)
}

func (s *Store) readHash(ctx context.Context, key string) ([]model.Signal, error) {
	var raw map[string]string
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		raw, err = s.client.HGetAll(ctx, key).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL %s: %w", key, err)
	}
	return decodeSignals(raw, s.log), nil
}

// SignalHistory returns up to limit signals for symbol from its stream,
// newest first.
func (s *Store) SignalHistory(ctx context.Context, symbol string, limit int) ([]model.Signal, error) {
	var msgs []goredis.XMessage
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		msgs, err = s.client.XRevRangeN(ctx, StreamKey(symbol), "+", "-", int64(limit)).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis XREVRANGE %s: %w", symbol, err)
	}

	out := make([]model.Signal, 0, len(msgs))
	for _, m := range msgs {
		data, _ := m.Values["data"].(string)
		var sig model.Signal
		if err := json.Unmarshal([]byte(data), &sig); err != nil {
			s.log.Warn("skipping undecodable stream entry", "symbol", symbol, "id", m.ID, "error", err)
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

// GetInstrument implements instruments.Cache.
func (s *Store) GetInstrument(ctx context.Context, exchange, symbol string) (model.Instrument, bool, error) {
	var raw string
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		raw, err = s.client.Get(ctx, instrumentKey(exchange, symbol)).Result()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		return err
	})
	if err != nil || raw == "" {
		return model.Instrument{}, false, err
	}
	var inst model.Instrument
	if err := json.Unmarshal([]byte(raw), &inst); err != nil {
		return model.Instrument{}, false, fmt.Errorf("decode cached instrument %s: %w", symbol, err)
	}
	return inst, true, nil
}

// SetInstrument implements instruments.Cache.
func (s *Store) SetInstrument(ctx context.Context, symbol string, inst model.Instrument, ttl time.Duration) error {
	b, err := json.Marshal(inst)
	if err != nil {
		return err
	}
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.client.Set(ctx, instrumentKey(inst.Exchange, symbol), b, ttl).Err()
	})
}

// decodeSignals decodes hash values, skipping (and logging) corrupt ones.
func decodeSignals(raw map[string]string, log *slog.Logger) []model.Signal {
	out := make([]model.Signal, 0, len(raw))
	for field, v := range raw {
		var sig model.Signal
		if err := json.Unmarshal([]byte(v), &sig); err != nil {
			log.Warn("skipping undecodable signal", "symbol", field, "error", err)
			continue
		}
		out = append(out, sig)
	}
	return out
}
