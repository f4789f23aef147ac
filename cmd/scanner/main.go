// Command scanner runs the KAMA signal scanner: it scans the watch list on
// every candle boundary, publishes actionable signals and serves the HTTP
// and WebSocket surface.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kama-scannerv1/config"
	"kama-scannerv1/internal/api"
	"kama-scannerv1/internal/gateway"
	"kama-scannerv1/internal/indicator"
	"kama-scannerv1/internal/instruments"
	"kama-scannerv1/internal/logger"
	"kama-scannerv1/internal/marketdata"
	"kama-scannerv1/internal/markethours"
	"kama-scannerv1/internal/metrics"
	"kama-scannerv1/internal/model"
	"kama-scannerv1/internal/notification"
	"kama-scannerv1/internal/scanner"
	redisstore "kama-scannerv1/internal/store/redis"
	sqlitestore "kama-scannerv1/internal/store/sqlite"
	"kama-scannerv1/internal/strategy"
	"kama-scannerv1/pkg/smartconnect"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.Init("kama-scanner", logger.ParseLevel(cfg.LogLevel))

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("scanner exited", "err", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()

	calendar, err := markethours.NewCalendar(cfg.Holidays)
	if err != nil {
		return err
	}
	log.Info("starting", "symbols", cfg.Symbols, "variant", cfg.Policy.Variant, "market", calendar.StatusString(time.Now()))

	// ---- Broker session ----
	client := smartconnect.New(smartconnect.Config{
		APIKey:         cfg.AngelAPIKey,
		RequestsPerSec: cfg.AngelRatePerSec,
	})
	session := smartconnect.NewSession(client, smartconnect.Credentials{
		ClientCode: cfg.AngelClientCode,
		PIN:        cfg.AngelPIN,
		TOTPSecret: cfg.AngelTOTPSecret,
	})
	if _, err := session.Login(ctx); err != nil {
		return fmt.Errorf("broker login: %w", err)
	}
	defer func() {
		logoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.TerminateSession(logoutCtx, cfg.AngelClientCode); err != nil {
			log.Warn("broker logout failed", "err", err)
		}
	}()

	// ---- Redis (optional) ----
	var (
		rstore *redisstore.Store
		rdb    *goredis.Client
	)
	if cfg.RedisAddr != "" {
		rstore, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Warn("redis unavailable, continuing without it", "err", err)
			rstore = nil
		} else {
			defer rstore.Close()
			rdb = rstore.Client()
			rstore.Breaker().OnStateChange = func(from, to redisstore.State) {
				prom.ObserveBreaker(int(to))
				log.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
			}
		}
	}

	// ---- SQLite (optional) ----
	var (
		sqlw     *sqlitestore.Writer
		sqlDB    *sql.DB
		seriesCh chan sqlitestore.Series
		sqlDone  = make(chan struct{})
	)
	if cfg.SQLitePath != "" {
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("sqlite dir: %w", err)
			}
		}
		sqlw, err = sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		defer sqlw.Close()
		sqlDB = sqlw.DB()
		seriesCh = make(chan sqlitestore.Series, 64)
		// Not tied to ctx: pending series drain after the scanner stops.
		go func() {
			defer close(sqlDone)
			sqlw.Run(context.Background(), seriesCh)
		}()
	} else {
		close(sqlDone)
	}

	health.StartLivenessChecker(ctx, rdb, sqlDB, 15*time.Second)

	// ---- Core ----
	var cache instruments.Cache
	if rstore != nil {
		cache = rstore
	}
	resolver := instruments.NewResolver(instruments.Config{
		URL:      cfg.ScripMasterURL,
		Exchange: cfg.Exchange,
	}, cache)
	if _, err := resolver.ResolveAll(ctx, cfg.Symbols); err != nil {
		log.Warn("some symbols did not resolve", "err", err)
	}

	history := marketdata.NewHistory(session, marketdata.HistoryConfig{
		Interval:       cfg.Interval,
		Lookback:       cfg.Lookback,
		IncludeForming: cfg.IncludeForming,
	})
	engine, err := indicator.NewEngine(cfg.Params)
	if err != nil {
		return err
	}
	classifier, err := strategy.NewClassifier(cfg.Policy)
	if err != nil {
		return err
	}

	// ---- Sinks ----
	hub := gateway.NewHub(256)
	hub.OnClientCount = func(n int) { prom.WSClients.Set(float64(n)) }

	sinks := []model.SignalSink{notification.NewLogNotifier(log)}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notification.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookTimeout))
	}
	if cfg.TelegramToken != "" {
		tg, err := notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn("telegram disabled", "err", err)
		} else {
			sinks = append(sinks, tg)
		}
	}
	if sqlw != nil {
		sinks = append(sinks, sqlw)
	}

	var (
		evals  scanner.EvaluationStore
		reader model.SignalReader
	)
	switch {
	case rstore != nil:
		// WebSocket clients are fed from Redis pub/sub so other API
		// instances see the same stream.
		sinks = append(sinks, rstore)
		evals, reader = rstore, rstore
		go hub.RunRedisRelay(ctx, rdb)
	default:
		sinks = append(sinks, hub)
		if sqlw != nil {
			reader = sqlw.Reader()
		}
	}

	deps := scanner.Deps{
		Resolver:    resolver,
		Source:      history,
		Engine:      engine,
		Classifier:  classifier,
		Sinks:       sinks,
		Evaluations: evals,
		Series:      seriesCh,
		Metrics:     prom,
		Health:      health,
	}
	sc, err := scanner.New(scanner.Config{
		Symbols:      cfg.Symbols,
		Interval:     cfg.ScanInterval,
		SettleDelay:  cfg.SettleDelay,
		Concurrency:  cfg.Concurrency,
		OutsideHours: cfg.OutsideHours,
		Calendar:     calendar,
		ScanOnStart:  cfg.ScanOnStart,
	}, deps)
	if err != nil {
		return err
	}

	// ---- HTTP ----
	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.Deps{
			Latest:  sc.Latest(),
			Store:   reader,
			Health:  health,
			Metrics: promhttp.Handler(),
			WS:      hub.ServeWS,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	err = sc.Run(ctx)

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Warn("http shutdown", "err", serr)
	}
	if seriesCh != nil {
		close(seriesCh)
	}
	<-sqlDone
	return err
}
