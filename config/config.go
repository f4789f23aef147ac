// Package config loads the scanner's configuration from environment
// variables, after an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"kama-scannerv1/internal/indicator"
	"kama-scannerv1/internal/strategy"
	"kama-scannerv1/pkg/smartconnect"
)

// DefaultSymbols is the watch list used when SYMBOLS is unset.
const DefaultSymbols = "ACC,APOLLOTYRE,ASHOKLEY,ASIANPAINT,BAJAJHLDNG,HDFCBANK,TCS,RELIANCE"

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Angel One credentials
	AngelAPIKey     string
	AngelClientCode string
	AngelPIN        string
	AngelTOTPSecret string
	AngelRatePerSec float64

	// Scan
	Symbols        []string
	Exchange       string
	Interval       smartconnect.Interval
	ScanInterval   time.Duration
	SettleDelay    time.Duration
	Lookback       time.Duration
	IncludeForming bool
	Concurrency    int
	OutsideHours   bool
	ScanOnStart    bool
	Holidays       []string

	// Rules
	Params indicator.Params
	Policy strategy.Policy

	// Infrastructure
	RedisAddr      string // empty disables Redis
	RedisPassword  string
	RedisDB        int
	SQLitePath     string // empty disables SQLite
	HTTPAddr       string
	ScripMasterURL string

	// Publishing
	WebhookURL     string
	WebhookTimeout time.Duration
	TelegramToken  string
	TelegramChatID int64

	LogLevel string
}

// Load reads .env (if present) and then the environment. Broker
// credentials are required.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return parse(os.LookupEnv, true)
}

// LoadOffline is Load without the broker credentials, for tools that only
// read local storage.
func LoadOffline() (*Config, error) {
	_ = godotenv.Load()
	return parse(os.LookupEnv, false)
}

// parse builds a Config from lookup, collecting every invalid or missing
// variable into one error.
func parse(lookup func(string) (string, bool), broker bool) (*Config, error) {
	e := &env{lookup: lookup}
	cred := e.getEnv
	if broker {
		cred = func(key, _ string) string { return e.mustEnv(key) }
	}

	variant, err := strategy.ParseVariant(e.getEnv("STRATEGY_VARIANT", string(strategy.VariantKAMAChop)))
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("STRATEGY_VARIANT: %w", err))
		variant = strategy.VariantKAMAChop
	}
	interval, err := smartconnect.ParseInterval(e.getEnv("CANDLE_INTERVAL", string(smartconnect.FiveMinute)))
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("CANDLE_INTERVAL: %w", err))
	}

	params := indicator.DefaultParams()
	params.ShortLength = e.getInt("KAMA_SHORT_LENGTH", params.ShortLength)
	params.LongLength = e.getInt("KAMA_LONG_LENGTH", params.LongLength)
	params.FastLength = e.getInt("KAMA_FAST_LENGTH", params.FastLength)
	params.SlowLength = e.getInt("KAMA_SLOW_LENGTH", params.SlowLength)
	params.ATRLength = e.getInt("ATR_LENGTH", params.ATRLength)
	params.ChopLength = e.getInt("CHOP_LENGTH", params.ChopLength)
	params.ADXLength = e.getInt("ADX_LENGTH", params.ADXLength)
	params.SMAFast = e.getInt("SMA_FAST", params.SMAFast)
	params.SMASlow = e.getInt("SMA_SLOW", params.SMASlow)
	if tb := e.getEnv("TREND_TIE_BREAK", ""); tb != "" {
		t, err := indicator.ParseTrend(tb)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("TREND_TIE_BREAK: %w", err))
		} else {
			params.TieBreak = t
		}
	}
	if err := params.Validate(); err != nil {
		e.errs = append(e.errs, err)
	}

	policy := strategy.DefaultPolicy(variant)
	policy.ChopMax = e.getFloat("CHOP_MAX", policy.ChopMax)
	policy.ADXMin = e.getFloat("ADX_MIN", policy.ADXMin)
	policy.StopATRMult = e.getFloat("STOP_ATR_MULT", policy.StopATRMult)
	policy.TargetATRMult = e.getFloat("TARGET_ATR_MULT", policy.TargetATRMult)
	policy.BuyStopFactor = e.getFloat("BUY_STOP_FACTOR", policy.BuyStopFactor)
	policy.SellStopFactor = e.getFloat("SELL_STOP_FACTOR", policy.SellStopFactor)
	policy.DeviationPct = e.getFloat("DEVIATION_PCT", policy.DeviationPct)
	if err := policy.Validate(); err != nil {
		e.errs = append(e.errs, err)
	}

	cfg := &Config{
		AngelAPIKey:     cred("ANGEL_API_KEY", ""),
		AngelClientCode: cred("ANGEL_CLIENT_CODE", ""),
		AngelPIN:        cred("ANGEL_PIN", ""),
		AngelTOTPSecret: cred("ANGEL_TOTP_SECRET", ""),
		AngelRatePerSec: e.getFloat("ANGEL_RATE_PER_SEC", 1),

		Symbols:        parseList(e.getEnv("SYMBOLS", DefaultSymbols), true),
		Exchange:       strings.ToUpper(e.getEnv("EXCHANGE", "NSE")),
		Interval:       interval,
		ScanInterval:   e.getDuration("SCAN_INTERVAL", 5*time.Minute),
		SettleDelay:    e.getDuration("SCAN_SETTLE_DELAY", 5*time.Second),
		Lookback:       time.Duration(e.getInt("LOOKBACK_DAYS", 10)) * 24 * time.Hour,
		IncludeForming: e.getBool("INCLUDE_FORMING_BAR", false),
		Concurrency:    e.getInt("SCAN_CONCURRENCY", 4),
		OutsideHours:   e.getBool("SCAN_OUTSIDE_HOURS", false),
		ScanOnStart:    e.getBool("SCAN_ON_START", false),
		Holidays:       parseList(e.getEnv("MARKET_HOLIDAYS", ""), false),

		Params: params,
		Policy: policy,

		RedisAddr:      e.getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  e.getEnv("REDIS_PASSWORD", ""),
		RedisDB:        e.getInt("REDIS_DB", 0),
		SQLitePath:     e.getEnv("SQLITE_PATH", "data/scanner.db"),
		HTTPAddr:       e.getEnv("HTTP_ADDR", ":8080"),
		ScripMasterURL: e.getEnv("SCRIP_MASTER_URL", ""),

		WebhookURL:     e.getEnv("SIGNAL_WEBHOOK_URL", ""),
		WebhookTimeout: e.getDuration("SIGNAL_WEBHOOK_TIMEOUT", 5*time.Second),
		TelegramToken:  e.getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID: e.getInt64("TELEGRAM_CHAT_ID", 0),

		LogLevel: e.getEnv("LOG_LEVEL", "info"),
	}

	if len(cfg.Symbols) == 0 {
		e.errs = append(e.errs, errors.New("SYMBOLS: empty watch list"))
	}
	if cfg.ScanInterval <= 0 {
		e.errs = append(e.errs, errors.New("SCAN_INTERVAL: must be positive"))
	}
	if cfg.Concurrency < 1 {
		e.errs = append(e.errs, errors.New("SCAN_CONCURRENCY: must be >= 1"))
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID == 0 {
		e.errs = append(e.errs, errors.New("TELEGRAM_CHAT_ID: required with TELEGRAM_BOT_TOKEN"))
	}

	if len(e.errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(e.errs...))
	}
	return cfg, nil
}

// env wraps a lookup function and accumulates parse errors.
type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) mustEnv(key string) string {
	v := e.getEnv(key, "")
	if v == "" {
		e.errs = append(e.errs, fmt.Errorf("required env var %s not set", key))
	}
	return v
}

func (e *env) getEnv(key, fallback string) string {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return fallback
	}
	return v
}

func (e *env) getInt(key string, fallback int) int {
	v := e.getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return fallback
	}
	return n
}

func (e *env) getInt64(key string, fallback int64) int64 {
	v := e.getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return fallback
	}
	return n
}

func (e *env) getFloat(key string, fallback float64) float64 {
	v := e.getEnv(key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a number", key, v))
		return fallback
	}
	return f
}

func (e *env) getBool(key string, fallback bool) bool {
	v := e.getEnv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return fallback
	}
	return b
}

func (e *env) getDuration(key string, fallback time.Duration) time.Duration {
	v := e.getEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return fallback
	}
	return d
}

// parseList splits a comma-separated list, dropping blanks.
func parseList(s string, upper bool) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if upper {
			p = strings.ToUpper(p)
		}
		out = append(out, p)
	}
	return out
}
