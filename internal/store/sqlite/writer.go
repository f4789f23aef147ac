package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"kama-scannerv1/internal/indicator"
	"kama-scannerv1/internal/model"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/scanner.db"
}

// Series is one symbol's indicator-augmented series from a scan cycle.
type Series struct {
	Symbol string
	Rows   []indicator.Row
}

// Writer persists candles, indicator rows and signals. All writes share a
// single connection, so concurrent callers are serialised by database/sql.
type Writer struct {
	db  *sql.DB
	log *slog.Logger
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

// New opens the database with WAL mode and creates the schema.
func New(cfg Config) (*Writer, error) {
	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log := slog.With("component", "sqlite")
	log.Info("opened database", "path", cfg.DBPath)
	return &Writer{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			token      TEXT    NOT NULL,
			exchange   TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       INTEGER NOT NULL,
			high       INTEGER NOT NULL,
			low        INTEGER NOT NULL,
			close      INTEGER NOT NULL,
			volume     INTEGER,
			PRIMARY KEY (exchange, token, ts)
		);

		CREATE TABLE IF NOT EXISTS indicator_rows (
			symbol      TEXT    NOT NULL,
			ts          INTEGER NOT NULL,
			close       INTEGER NOT NULL,
			kama_short  REAL,
			kama_long   REAL,
			short_trend TEXT    NOT NULL,
			long_trend  TEXT    NOT NULL,
			atr         REAL,
			chop        REAL,
			adx         REAL,
			plus_di     REAL,
			minus_di    REAL,
			sma_fast    REAL,
			sma_slow    REAL,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS signals (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol       TEXT    NOT NULL,
			token        TEXT    NOT NULL,
			exchange     TEXT    NOT NULL,
			action       TEXT    NOT NULL,
			variant      TEXT    NOT NULL,
			ts           INTEGER NOT NULL,
			close        REAL    NOT NULL,
			kama_short   REAL,
			kama_long    REAL,
			chop         REAL,
			adx          REAL,
			atr          REAL,
			stop_loss    REAL,
			target       REAL,
			generated_at INTEGER NOT NULL,
			UNIQUE (symbol, variant, ts)
		);

		CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals (symbol, ts DESC);
	`)
	return err
}

// Run reads series from ch and writes each in its own transaction.
// Blocks until ctx is cancelled or ch is closed; pending items are drained
// on close but not after cancellation.
func (w *Writer) Run(ctx context.Context, ch <-chan Series) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-ch:
			if !ok {
				return
			}
			start := time.Now()
			if err := w.WriteSeries(ctx, s); err != nil {
				w.log.Error("series write failed", "symbol", s.Symbol, "error", err)
				continue
			}
			w.log.Debug("series committed", "symbol", s.Symbol, "rows", len(s.Rows), "took", time.Since(start))
		}
	}
}

// WriteSeries upserts the candles and indicator rows of s in one
// transaction. Rows are replaced wholesale: a later cycle's KAMA for the same
// bar supersedes the earlier one.
func (w *Writer) WriteSeries(ctx context.Context, s Series) error {
	if len(s.Rows) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	candleStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (token, exchange, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer candleStmt.Close()

	rowStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO indicator_rows
			(symbol, ts, close, kama_short, kama_long, short_trend, long_trend,
			 atr, chop, adx, plus_di, minus_di, sma_fast, sma_slow)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer rowStmt.Close()

	for i := range s.Rows {
		r := &s.Rows[i]
		if _, err := candleStmt.ExecContext(ctx, r.Token, r.Exchange, r.TS.Unix(),
			r.Open, r.High, r.Low, r.Close, r.Volume); err != nil {
			return fmt.Errorf("insert candle %s@%d: %w", s.Symbol, r.TS.Unix(), err)
		}
		if _, err := rowStmt.ExecContext(ctx, s.Symbol, r.TS.Unix(), r.Close,
			nullFloat(r.KAMAShort), nullFloat(r.KAMALong), r.ShortTrend.String(), r.LongTrend.String(),
			nullFloat(r.ATR), nullFloat(r.Chop), nullFloat(r.ADX), nullFloat(r.PlusDI), nullFloat(r.MinusDI),
			nullFloat(r.SMAFast), nullFloat(r.SMASlow)); err != nil {
			return fmt.Errorf("insert row %s@%d: %w", s.Symbol, r.TS.Unix(), err)
		}
	}
	return tx.Commit()
}

// Name implements model.SignalSink.
func (w *Writer) Name() string { return "sqlite" }

// Publish implements model.SignalSink by recording the signal. A repeated
// signal for the same symbol, variant and bar replaces the earlier one.
func (w *Writer) Publish(ctx context.Context, sig model.Signal) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO signals
			(symbol, token, exchange, action, variant, ts, close, kama_short, kama_long,
			 chop, adx, atr, stop_loss, target, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sig.Symbol, sig.Token, sig.Exchange, string(sig.Action), sig.Variant, sig.TS.Unix(), sig.Close,
		nullFloat(sig.KAMAShort), nullFloat(sig.KAMALong), nullFloat(sig.Chop), nullFloat(sig.ADX),
		nullFloat(sig.ATR), ptrFloat(sig.StopLoss), ptrFloat(sig.Target), sig.GeneratedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert signal %s: %w", sig.Symbol, err)
	}
	return nil
}

// Reader returns a Reader sharing the writer's connection.
func (w *Writer) Reader() *Reader { return &Reader{db: w.db} }

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}

func nullFloat(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func ptrFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
