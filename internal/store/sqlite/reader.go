package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"kama-scannerv1/internal/indicator"
	"kama-scannerv1/internal/model"
)

// Reader provides read access to stored candles, indicator rows and signals.
// It implements model.SignalReader.
type Reader struct {
	db    *sql.DB
	owned bool
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &Reader{db: db, owned: true}, nil
}

// ReadCandles returns an instrument's candles with ts >= from, oldest first.
func (r *Reader) ReadCandles(ctx context.Context, exchange, token string, from time.Time) ([]model.Candle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT token, exchange, ts, open, high, low, close, volume
		FROM candles
		WHERE exchange = ? AND token = ? AND ts >= ?
		ORDER BY ts ASC
	`, exchange, token, from.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tsUnix int64
		var vol sql.NullInt64
		if err := rows.Scan(&c.Token, &c.Exchange, &tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &vol); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.TS = time.Unix(tsUnix, 0).UTC()
		c.Volume = vol.Int64
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// ReadRows returns the last limit indicator rows of symbol, oldest first.
// Only TS and Close are set on the embedded candle.
func (r *Reader) ReadRows(ctx context.Context, symbol string, limit int) ([]indicator.Row, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, close, kama_short, kama_long, short_trend, long_trend,
		       atr, chop, adx, plus_di, minus_di, sma_fast, sma_slow
		FROM (
			SELECT * FROM indicator_rows WHERE symbol = ? ORDER BY ts DESC LIMIT ?
		) ORDER BY ts ASC
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query indicator_rows: %w", err)
	}
	defer rows.Close()

	var out []indicator.Row
	for rows.Next() {
		var (
			row          indicator.Row
			tsUnix       int64
			short, long  string
			ks, kl       sql.NullFloat64
			atr, chop    sql.NullFloat64
			adx, pdi     sql.NullFloat64
			mdi, sf, ssl sql.NullFloat64
		)
		if err := rows.Scan(&tsUnix, &row.Close, &ks, &kl, &short, &long,
			&atr, &chop, &adx, &pdi, &mdi, &sf, &ssl); err != nil {
			return nil, fmt.Errorf("sqlite scan indicator_rows: %w", err)
		}
		row.TS = time.Unix(tsUnix, 0).UTC()
		row.ShortTrend, _ = indicator.ParseTrend(short)
		row.LongTrend, _ = indicator.ParseTrend(long)
		row.KAMAShort, row.KAMALong = nan(ks), nan(kl)
		row.ATR, row.Chop, row.ADX = nan(atr), nan(chop), nan(adx)
		row.PlusDI, row.MinusDI = nan(pdi), nan(mdi)
		row.SMAFast, row.SMASlow = nan(sf), nan(ssl)
		out = append(out, row)
	}
	return out, rows.Err()
}

const signalColumns = `symbol, token, exchange, action, variant, ts, close, kama_short, kama_long,
	chop, adx, atr, stop_loss, target, generated_at`

// LatestSignals returns the newest signal per symbol.
func (r *Reader) LatestSignals(ctx context.Context) ([]model.Signal, error) {
	return r.querySignals(ctx, `
		SELECT `+signalColumns+` FROM signals s
		WHERE id = (SELECT id FROM signals WHERE symbol = s.symbol ORDER BY ts DESC, id DESC LIMIT 1)
		ORDER BY symbol
	`)
}

// SignalHistory returns up to limit signals for symbol, newest first.
func (r *Reader) SignalHistory(ctx context.Context, symbol string, limit int) ([]model.Signal, error) {
	return r.querySignals(ctx, `
		SELECT `+signalColumns+` FROM signals WHERE symbol = ? ORDER BY ts DESC, id DESC LIMIT ?
	`, symbol, limit)
}

func (r *Reader) querySignals(ctx context.Context, query string, args ...any) ([]model.Signal, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query signals: %w", err)
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		var (
			s            model.Signal
			action       string
			ts, gen      int64
			ks, kl, ch   sql.NullFloat64
			adx, atr     sql.NullFloat64
			stop, target sql.NullFloat64
		)
		if err := rows.Scan(&s.Symbol, &s.Token, &s.Exchange, &action, &s.Variant, &ts, &s.Close,
			&ks, &kl, &ch, &adx, &atr, &stop, &target, &gen); err != nil {
			return nil, fmt.Errorf("sqlite scan signals: %w", err)
		}
		s.Action = model.Action(action)
		s.TS = time.Unix(ts, 0).UTC()
		s.GeneratedAt = time.Unix(gen, 0).UTC()
		s.KAMAShort, s.KAMALong, s.Chop = nan(ks), nan(kl), nan(ch)
		s.ADX, s.ATR = nan(adx), nan(atr)
		if stop.Valid {
			v := stop.Float64
			s.StopLoss = &v
		}
		if target.Valid {
			v := target.Float64
			s.Target = &v
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Ping checks the connection.
func (r *Reader) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

// Close closes the database. A Reader obtained from Writer.Reader leaves
// the shared connection open.
func (r *Reader) Close() error {
	if !r.owned {
		return nil
	}
	return r.db.Close()
}

func nan(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
