// Package alert formats escalated error events and hands them to a
// notification channel.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"parley/pkg/events"
)

// Notifier delivers one alert. Implementations may fail; the Alerter
// swallows their errors.
type Notifier interface {
	Notify(ctx context.Context, subject string, body string) error
}

type Alerter struct {
	notifier Notifier
	log      *slog.Logger
}

func NewAlerter(notifier Notifier, log *slog.Logger) *Alerter {
	if log == nil {
		log = slog.Default()
	}
	return &Alerter{
		notifier: notifier,
		log:      log.With("component", "alert.alerter"),
	}
}

// SendAlert formats detail and submits it once. Delivery failures are logged
// and never returned.
func (a *Alerter) SendAlert(ctx context.Context, detail events.ErrorEvent) {
	log := a.log.With("error_id", detail.ErrorID, "severity", string(detail.Severity))
	if a.notifier == nil {
		log.Warn("No notifier configured, dropping alert")
		return
	}

	subject := Subject(detail)
	if err := a.notifier.Notify(ctx, subject, Body(detail)); err != nil {
		log.Error("Failed to send alert", "subject", subject, "error", err)
		return
	}
	log.Info("Alert sent", "subject", subject)
}

// Subject renders "[<SEVERITY>] <error_type> in <component>".
func Subject(detail events.ErrorEvent) string {
	return fmt.Sprintf("[%s] %s in %s", strings.ToUpper(orUnknown(string(detail.Severity))), orUnknown(detail.ErrorType), orUnknown(detail.Component))
}

// Body lists the event fields followed by its context pairs in order.
func Body(detail events.ErrorEvent) string {
	var b strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&b, "%s: %s\n", label, value)
	}

	line("Error ID", orUnknown(detail.ErrorID))
	line("Error Type", orUnknown(detail.ErrorType))
	line("Severity", orUnknown(string(detail.Severity)))
	line("Component", orUnknown(detail.Component))
	line("Message", orUnknown(detail.ErrorMessage))
	if !detail.Timestamp.IsZero() {
		line("Time", detail.Timestamp.UTC().Format(time.RFC3339))
	}

	if detail.Context.Len() > 0 {
		b.WriteString("\nContext:\n")
		for key, value := range detail.Context.All() {
			fmt.Fprintf(&b, "  %s: %s\n", key, value.String())
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func orUnknown(value string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return "unknown"
}

// LogNotifier writes alerts to the structured log. It is the fallback when
// no external channel is configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log.With("component", "alert.log")}
}

func (n *LogNotifier) Notify(_ context.Context, subject string, body string) error {
	n.log.Error(subject, "body", body)
	return nil
}

// MultiNotifier fans one alert out to several channels and reports the
// first failure after trying all of them.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, subject string, body string) error {
	var first error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, subject, body); err != nil && first == nil {
			first = err
		}
	}
	return first
}
