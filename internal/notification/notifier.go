// Package notification delivers actionable signals to external channels
// (webhooks, Telegram, the process log). Every notifier is a model.SignalSink.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"kama-scannerv1/internal/model"
)

// LogNotifier writes each signal to the structured log (useful for development).
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier. A nil logger uses slog.Default.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log.With(slog.String("component", "notify"))}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Publish(ctx context.Context, sig model.Signal) error {
	attrs := []any{
		slog.String("symbol", sig.Symbol),
		slog.String("signal", string(sig.Action)),
		slog.String("variant", sig.Variant),
		slog.Float64("close", sig.Close),
	}
	if sig.StopLoss != nil {
		attrs = append(attrs, slog.Float64("stop_loss", *sig.StopLoss))
	}
	if sig.Target != nil {
		attrs = append(attrs, slog.Float64("target", *sig.Target))
	}
	n.log.InfoContext(ctx, "signal", attrs...)
	return nil
}

// FormatSignal renders a signal as a short human-readable message.
func FormatSignal(sig model.Signal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s @ %.2f\n", sig.Action, sig.Symbol, sig.Close)
	fmt.Fprintf(&b, "bar %s (%s)\n", sig.TS.Format("2006-01-02 15:04"), sig.Variant)
	if sig.StopLoss != nil {
		fmt.Fprintf(&b, "SL %.2f", *sig.StopLoss)
	}
	if sig.Target != nil {
		if sig.StopLoss != nil {
			b.WriteString("  ")
		}
		fmt.Fprintf(&b, "TG %.2f", *sig.Target)
	}
	return strings.TrimRight(b.String(), "\n")
}
