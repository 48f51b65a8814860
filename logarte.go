// Package logarte instruments a host application: entries submitted by its
// interceptors and logging calls are evaluated against alert rules and
// shipped to a remote collector in batches. One Logarte instance is shared
// across all producers; construct it explicitly and pass it by reference —
// there is no ambient singleton.
package logarte

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sachinkoro/logarte/pkg/alerts"
	"github.com/sachinkoro/logarte/pkg/entry"
	"github.com/sachinkoro/logarte/pkg/pipeline"
)

// Config carries the full configuration surface: the rule set for the alert
// engine and the delivery options for the pipeline. Both can be replaced
// later via UpdateRules and UpdateDelivery.
type Config struct {
	Rules    []alerts.Rule
	Cooldown time.Duration

	// Callback, when set, runs once per notification.
	Callback func(*alerts.Notification)

	// WebhookURL, when set, receives every notification as JSON.
	WebhookURL     string
	WebhookHeaders map[string]string

	Delivery pipeline.Options

	Logger *slog.Logger
}

// Logarte routes each submitted entry independently to the alert engine and
// the delivery pipeline. Safe for concurrent use from any number of
// producers; Submit never blocks on I/O and never panics into the caller.
type Logarte struct {
	engine *alerts.Engine
	pipe   *pipeline.Pipeline
	log    *slog.Logger
}

// New builds the shared engine/pipeline pair.
func New(cfg Config) *Logarte {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Delivery.Logger == nil {
		cfg.Delivery.Logger = log
	}

	return &Logarte{
		engine: alerts.New(alerts.Options{
			Rules:          cfg.Rules,
			Cooldown:       cfg.Cooldown,
			Callback:       cfg.Callback,
			WebhookURL:     cfg.WebhookURL,
			WebhookHeaders: cfg.WebhookHeaders,
			Logger:         log,
		}),
		pipe: pipeline.New(cfg.Delivery),
		log:  log,
	}
}

// Submit hands one entry to the core. Entries that fail validation are
// excluded from alert evaluation with a logged warning but still forwarded
// to delivery as raw payload. The two paths are independent: a problem on
// one never affects the other, and nothing propagates to the caller.
func (l *Logarte) Submit(e entry.Entry) {
	if e == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			l.log.Error("logarte: submit failed", "kind", e.Kind(), "err", fmt.Sprint(rec))
		}
	}()

	if err := e.Validate(); err != nil {
		l.log.Warn("logarte: invalid entry excluded from alert evaluation",
			"kind", e.Kind(), "err", err)
	} else {
		l.engine.Ingest(e)
	}

	l.pipe.Enqueue(e)
}

// Subscribe registers a broadcast listener for alert notifications.
func (l *Logarte) Subscribe() (<-chan *alerts.Notification, func()) {
	return l.engine.Subscribe()
}

// UpdateRules replaces the rule set, discarding all window and cooldown
// state.
func (l *Logarte) UpdateRules(rules []alerts.Rule) {
	l.engine.UpdateRules(rules)
}

// UpdateDelivery replaces the delivery configuration. Queued entries are
// kept.
func (l *Logarte) UpdateDelivery(opts pipeline.Options) {
	l.pipe.UpdateConfig(opts)
}

// FlushNow forces a synchronous delivery of everything pending.
func (l *Logarte) FlushNow(ctx context.Context) (pipeline.Ack, error) {
	return l.pipe.FlushNow(ctx)
}

// SetOnline records a connectivity transition for the delivery pipeline.
func (l *Logarte) SetOnline(online bool) {
	l.pipe.SetOnline(online)
}

// ClearFailures resets the failure windows for endpoint across every rule.
func (l *Logarte) ClearFailures(endpoint string) {
	l.engine.ClearFailures(endpoint)
}

// FailureCount returns the current trimmed failure count for endpoint.
func (l *Logarte) FailureCount(endpoint string) int {
	return l.engine.FailureCount(endpoint)
}

// AllFailureCounts returns trimmed counts for every tracked rule/endpoint
// pair.
func (l *Logarte) AllFailureCounts() map[string]int {
	return l.engine.AllFailureCounts()
}

// DeliveryStats returns the pipeline's queue and delivery counters.
func (l *Logarte) DeliveryStats() pipeline.Stats {
	return l.pipe.Stats()
}

// Close disposes both components: the engine's subscriber channels are
// closed and the pipeline's run loop stops. Pending entries are not flushed;
// call FlushNow first when a final delivery is wanted.
func (l *Logarte) Close() {
	l.engine.Close()
	l.pipe.Close()
}
