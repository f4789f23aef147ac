package instruments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"kama-scannerv1/internal/logger"
	"kama-scannerv1/internal/model"
)

// ErrSymbolNotFound is returned when no equity row matches the symbol.
var ErrSymbolNotFound = errors.New("instruments: symbol not found")

// Cache stores resolved instruments across restarts. The Redis store
// implements it; a nil Cache disables caching.
type Cache interface {
	GetInstrument(ctx context.Context, exchange, symbol string) (model.Instrument, bool, error)
	SetInstrument(ctx context.Context, symbol string, inst model.Instrument, ttl time.Duration) error
}

// Config configures a Resolver.
type Config struct {
	URL      string        // default DefaultScripMasterURL
	Exchange string        // default "NSE"
	TTL      time.Duration // master refresh and cache TTL, default 24h
	Timeout  time.Duration // download timeout, default 60s
	// MaxRetryElapsed bounds download retries (default 30s).
	MaxRetryElapsed time.Duration
}

// Resolver maps trading names to instruments. It implements
// model.InstrumentResolver and is safe for concurrent use.
type Resolver struct {
	cfg    Config
	client *http.Client
	cache  Cache
	now    func() time.Time
	log    *slog.Logger

	mu       sync.Mutex
	byName   map[string]model.Instrument
	loadedAt time.Time
}

// NewResolver creates a Resolver. The scrip master is downloaded lazily on
// the first cache miss.
func NewResolver(cfg Config, cache Cache) *Resolver {
	if cfg.URL == "" {
		cfg.URL = DefaultScripMasterURL
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "NSE"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetryElapsed == 0 {
		cfg.MaxRetryElapsed = 30 * time.Second
	}
	return &Resolver{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cache:  cache,
		now:    time.Now,
		log:    logger.Component("instruments"),
	}
}

// Resolve returns the equity instrument whose name is symbol.
func (r *Resolver) Resolve(ctx context.Context, symbol string) (model.Instrument, error) {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	if key == "" {
		return model.Instrument{}, fmt.Errorf("%w: empty symbol", ErrSymbolNotFound)
	}

	if r.cache != nil {
		inst, ok, err := r.cache.GetInstrument(ctx, r.cfg.Exchange, key)
		if err != nil {
			r.log.Warn("instrument cache read failed", "symbol", key, "error", err)
		} else if ok {
			return inst, nil
		}
	}

	byName, err := r.master(ctx)
	if err != nil {
		return model.Instrument{}, err
	}
	inst, ok := byName[key]
	if !ok {
		return model.Instrument{}, fmt.Errorf("%w: %s on %s", ErrSymbolNotFound, key, r.cfg.Exchange)
	}

	if r.cache != nil {
		if err := r.cache.SetInstrument(ctx, key, inst, r.cfg.TTL); err != nil {
			r.log.Warn("instrument cache write failed", "symbol", key, "error", err)
		}
	}
	return inst, nil
}

// ResolveAll resolves every symbol, skipping (and logging) unknown ones.
func (r *Resolver) ResolveAll(ctx context.Context, symbols []string) ([]model.Instrument, error) {
	out := make([]model.Instrument, 0, len(symbols))
	for _, s := range symbols {
		inst, err := r.Resolve(ctx, s)
		if errors.Is(err, ErrSymbolNotFound) {
			r.log.Warn("skipping unknown symbol", "symbol", s)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// master returns the name index, downloading it when missing or stale.
func (r *Resolver) master(ctx context.Context) (map[string]model.Instrument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byName != nil && r.now().Sub(r.loadedAt) < r.cfg.TTL {
		return r.byName, nil
	}

	var rows []model.Instrument
	op := func() error {
		var err error
		rows, err = Download(ctx, r.client, r.cfg.URL, r.cfg.Exchange)
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = r.cfg.MaxRetryElapsed
	if err := backoff.Retry(op, backoff.WithContext(eb, ctx)); err != nil {
		if r.byName != nil {
			r.log.Warn("scrip master refresh failed, keeping previous copy", "error", err)
			return r.byName, nil
		}
		return nil, err
	}

	r.byName = index(rows)
	r.loadedAt = r.now()
	r.log.Info("scrip master loaded", "rows", len(rows), "equities", len(r.byName))
	return r.byName, nil
}

// index keeps one equity row per upper-cased name; the first "-EQ" row wins.
func index(rows []model.Instrument) map[string]model.Instrument {
	out := make(map[string]model.Instrument, len(rows)/4)
	for _, inst := range rows {
		if !IsEquity(inst) {
			continue
		}
		name := strings.ToUpper(inst.Name)
		if _, dup := out[name]; dup {
			continue
		}
		out[name] = inst
	}
	return out
}
