// cmd/evaluate runs the indicator engine and signal classifier over candles
// stored in SQLite, without a broker session.
//
// Usage:
//
//	go run ./cmd/evaluate --symbol=TCS --rows=10
//	go run ./cmd/evaluate --symbol=TCS --token=11536 --variant=kama_adx
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"kama-scannerv1/config"
	"kama-scannerv1/internal/indicator"
	"kama-scannerv1/internal/instruments"
	"kama-scannerv1/internal/logger"
	"kama-scannerv1/internal/model"
	sqlitestore "kama-scannerv1/internal/store/sqlite"
	"kama-scannerv1/internal/strategy"
)

func main() {
	cfg, err := config.LoadOffline()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.Init("kama-evaluate", logger.ParseLevel(cfg.LogLevel))

	symbol := flag.String("symbol", "", "Trading symbol to evaluate (required)")
	token := flag.String("token", "", "Instrument token; looked up in the scrip master when empty")
	dbPath := flag.String("db", cfg.SQLitePath, "Path to SQLite database")
	days := flag.Int("days", int(cfg.Lookback/(24*time.Hour)), "Days of candles to read")
	nRows := flag.Int("rows", 10, "Number of trailing rows to print")
	variant := flag.String("variant", string(cfg.Policy.Variant), "Rule set: kama_chop, kama_adx or sma_deviation")
	asJSON := flag.Bool("json", false, "Print the signal as JSON")
	flag.Parse()

	if *symbol == "" {
		flag.Usage()
		os.Exit(2)
	}

	policy := cfg.Policy
	if *variant != string(policy.Variant) {
		v, err := strategy.ParseVariant(*variant)
		if err != nil {
			log.Error("invalid variant", "err", err)
			os.Exit(2)
		}
		policy = strategy.DefaultPolicy(v)
	}

	ctx := context.Background()
	inst := model.Instrument{
		Token:         *token,
		Exchange:      cfg.Exchange,
		TradingSymbol: strings.ToUpper(*symbol),
		Name:          strings.ToUpper(*symbol),
	}
	if inst.Token == "" {
		resolver := instruments.NewResolver(instruments.Config{
			URL:      cfg.ScripMasterURL,
			Exchange: cfg.Exchange,
		}, nil)
		inst, err = resolver.Resolve(ctx, *symbol)
		if err != nil {
			log.Error("resolve failed", "symbol", *symbol, "err", err)
			os.Exit(1)
		}
	}

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Error("sqlite open failed", "err", err)
		os.Exit(1)
	}
	defer reader.Close()

	from := time.Now().AddDate(0, 0, -*days)
	candles, err := reader.ReadCandles(ctx, inst.Exchange, inst.Token, from)
	if err != nil {
		log.Error("read candles failed", "err", err)
		os.Exit(1)
	}
	if len(candles) == 0 {
		log.Error("no stored candles", "symbol", inst.Name, "token", inst.Token, "from", from.Format(time.DateOnly))
		os.Exit(1)
	}

	engine, err := indicator.NewEngine(cfg.Params)
	if err != nil {
		log.Error("invalid indicator params", "err", err)
		os.Exit(1)
	}
	classifier, err := strategy.NewClassifier(policy)
	if err != nil {
		log.Error("invalid policy", "err", err)
		os.Exit(1)
	}

	rows, err := engine.Compute(candles)
	if err != nil {
		log.Error("compute failed", "err", err)
		os.Exit(1)
	}
	sig := classifier.Classify(inst, rows)
	sig.GeneratedAt = time.Now()

	printRows(os.Stdout, rows, *nRows)
	fmt.Println()
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(sig)
		return
	}
	printSignal(os.Stdout, sig)
}

func printRows(w io.Writer, rows []indicator.Row, n int) {
	if n > len(rows) {
		n = len(rows)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "time\tclose\tkama_s\tkama_l\ttrend_s\ttrend_l\tatr\tchop\tadx\t")
	for _, r := range rows[len(rows)-n:] {
		fmt.Fprintf(tw, "%s\t%.2f\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			r.TS.Format("01-02 15:04"),
			model.Rupees(r.Close),
			num(r.KAMAShort), num(r.KAMALong),
			r.ShortTrend, r.LongTrend,
			num(r.ATR), num(r.Chop), num(r.ADX),
		)
	}
	tw.Flush()
}

func printSignal(w io.Writer, sig model.Signal) {
	fmt.Fprintf(w, "%s %s (%s) bar %s close %.2f\n",
		sig.Action, sig.Symbol, sig.Variant, sig.TS.Format("2006-01-02 15:04"), sig.Close)
	if sig.StopLoss != nil && sig.Target != nil {
		fmt.Fprintf(w, "SL %.2f  TG %.2f\n", *sig.StopLoss, *sig.Target)
	}
}

func num(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}
