package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sachinkoro/logarte/pkg/entry"
)

const (
	// DefaultCooldown spaces out consecutive notifications from one rule.
	DefaultCooldown = 5 * time.Minute

	webhookTimeout = 10 * time.Second
)

// crashKeywords is the heuristic used by crashDetected rules. Substring
// matching can misfire (any message containing "exception" qualifies); the
// heuristic is kept pluggable rather than corrected.
var crashKeywords = []string{"crash", "fatal", "segfault", "exception"}

// Notification is one alert event. It is immutable once published.
type Notification struct {
	ID       string         `json:"id"`
	RuleID   string         `json:"rule_id"`
	RuleName string         `json:"rule_name"`
	Type     Type           `json:"type"`
	Severity Severity       `json:"severity"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	FiredAt  time.Time      `json:"fired_at"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Entries  []entry.Entry  `json:"entries,omitempty"`
}

// Options configures an Engine.
type Options struct {
	Rules []Rule

	// Cooldown is the minimum spacing between two notifications from the
	// same rule. Defaults to DefaultCooldown.
	//
	// Cooldown is tracked per rule ID only, not per endpoint: a firing on
	// one endpoint suppresses the rule for every other endpoint until the
	// cooldown elapses.
	Cooldown time.Duration

	// Callback, when set, is invoked synchronously once per notification.
	// Panics are contained and logged.
	Callback func(*Notification)

	// WebhookURL, when set, receives every notification as a JSON POST with
	// WebhookHeaders attached. Delivery is fire-and-forget.
	WebhookURL     string
	WebhookHeaders map[string]string

	Logger *slog.Logger
}

// Engine evaluates entries against configured rules and publishes
// notifications. Safe for concurrent use; Ingest never blocks on I/O.
type Engine struct {
	mu       sync.Mutex
	rules    []*compiledRule
	cooldown time.Duration
	lastFire map[string]time.Time
	subs     map[chan *Notification]struct{}
	callback func(*Notification)
	closed   bool

	webhookURL     string
	webhookHeaders map[string]string

	windows *failureWindows
	client  *http.Client
	log     *slog.Logger
	now     func() time.Time
}

// New creates an Engine. Rules that fail validation are disabled with a
// logged warning; the remaining rules operate normally.
func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	e := &Engine{
		cooldown:       cooldown,
		lastFire:       make(map[string]time.Time),
		subs:           make(map[chan *Notification]struct{}),
		callback:       opts.Callback,
		webhookURL:     opts.WebhookURL,
		webhookHeaders: opts.WebhookHeaders,
		windows:        newFailureWindows(),
		client:         &http.Client{Timeout: webhookTimeout},
		log:            log,
		now:            time.Now,
	}
	e.rules = e.compile(opts.Rules)
	return e
}

// compile validates and compiles the rule set, disabling invalid rules.
func (e *Engine) compile(rules []Rule) []*compiledRule {
	out := make([]*compiledRule, 0, len(rules))
	for _, r := range rules {
		c := compileRule(r)
		if err := r.validate(); err != nil {
			e.log.Warn("alerts: invalid rule disabled", "rule", r.ID, "err", err)
			c.Enabled = false
		}
		out = append(out, c)
	}
	return out
}

// Ingest evaluates ent against every enabled rule. A failure in one rule's
// evaluation is logged and never blocks the others or the caller.
func (e *Engine) Ingest(ent entry.Entry) {
	if ent == nil {
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	rules := e.rules
	e.mu.Unlock()

	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		e.evaluateSafe(r, ent)
	}
}

// evaluateSafe contains panics from a single rule's evaluation.
func (e *Engine) evaluateSafe(r *compiledRule, ent entry.Entry) {
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error("alerts: rule evaluation failed",
				"rule", r.ID, "kind", ent.Kind(), "err", fmt.Sprint(rec))
		}
	}()
	e.evaluate(r, ent)
}

func (e *Engine) evaluate(r *compiledRule, ent entry.Entry) {
	switch r.Type {
	case TypeAPIFailure:
		e.evalAPIFailure(r, ent)
	case TypeSlowResponse:
		e.evalSlowResponse(r, ent)
	case TypeCrashDetected:
		e.evalCrashDetected(r, ent)
	case TypeCustomThreshold:
		if r.Condition(ent) {
			e.fire(r, r.Severity,
				fmt.Sprintf("%s triggered", r.Name),
				fmt.Sprintf("custom condition of rule %q matched a %s entry", r.ID, ent.Kind()),
				map[string]any{"entryKind": string(ent.Kind())},
				[]entry.Entry{ent})
		}
	case TypeHighErrorRate:
		// Reserved: declared in the rule surface but intentionally not
		// evaluated.
	}
}

func (e *Engine) evalAPIFailure(r *compiledRule, ent entry.Entry) {
	n, ok := ent.(*entry.Network)
	if !ok {
		return
	}
	if n.StatusCode == 0 {
		return
	}
	if _, monitored := r.statusSet[n.StatusCode]; !monitored {
		return
	}
	if r.EndpointPattern != nil && !r.EndpointPattern.MatchString(n.URL) {
		return
	}

	endpoint := NormalizeEndpoint(n.URL)
	count := e.windows.record(r.ID, endpoint, r.TimeWindow)
	if count < r.FailureThreshold {
		return
	}

	e.fire(r, r.Severity,
		fmt.Sprintf("%s: repeated failures on %s", r.Name, endpoint),
		fmt.Sprintf("%d failures within %s on %s (last status %d)",
			count, r.TimeWindow, endpoint, n.StatusCode),
		map[string]any{
			"endpoint":     endpoint,
			"failureCount": count,
			"statusCode":   n.StatusCode,
			"timeWindow":   r.TimeWindow.String(),
		},
		[]entry.Entry{ent})
}

func (e *Engine) evalSlowResponse(r *compiledRule, ent entry.Entry) {
	n, ok := ent.(*entry.Network)
	if !ok {
		return
	}
	d, ok := n.Duration()
	if !ok || d <= r.SlowThreshold {
		return
	}

	e.fire(r, r.Severity,
		fmt.Sprintf("%s: slow response from %s", r.Name, NormalizeEndpoint(n.URL)),
		fmt.Sprintf("%s %s took %s (threshold %s)", n.Method, n.URL, d, r.SlowThreshold),
		map[string]any{
			"url":         n.URL,
			"durationMs":  d.Milliseconds(),
			"thresholdMs": r.SlowThreshold.Milliseconds(),
		},
		[]entry.Entry{ent})
}

func (e *Engine) evalCrashDetected(r *compiledRule, ent entry.Entry) {
	p, ok := ent.(*entry.Plain)
	if !ok {
		return
	}
	msg := strings.ToLower(p.Message)
	for _, kw := range crashKeywords {
		if strings.Contains(msg, kw) {
			// Crash signals always escalate to critical.
			e.fire(r, SeverityCritical,
				fmt.Sprintf("%s: crash signal detected", r.Name),
				fmt.Sprintf("message matched keyword %q: %s", kw, p.Message),
				map[string]any{"keyword": kw, "source": p.Source},
				[]entry.Entry{ent})
			return
		}
	}
}

// fire publishes a notification unless the rule is inside its cooldown.
// State is updated under the lock; delivery happens after it is released.
func (e *Engine) fire(r *compiledRule, sev Severity, title, message string, meta map[string]any, ents []entry.Entry) {
	now := e.now()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if last, ok := e.lastFire[r.ID]; ok && now.Sub(last) < e.cooldown {
		e.mu.Unlock()
		e.log.Debug("alerts: suppressed by cooldown", "rule", r.ID)
		return
	}
	e.lastFire[r.ID] = now

	targets := make([]chan *Notification, 0, len(e.subs))
	for ch := range e.subs {
		targets = append(targets, ch)
	}
	cb := e.callback
	webhookURL := e.webhookURL
	e.mu.Unlock()

	n := &Notification{
		ID:       uuid.NewString(),
		RuleID:   r.ID,
		RuleName: r.Name,
		Type:     r.Type,
		Severity: sev,
		Title:    title,
		Message:  message,
		FiredAt:  now,
		Metadata: meta,
		Entries:  ents,
	}

	e.log.Warn("alert fired",
		"rule", r.ID, "type", r.Type, "severity", sev, "title", title)

	for _, ch := range targets {
		select {
		case ch <- n:
		default:
			// Subscriber is not keeping up — drop rather than block Ingest.
			e.log.Debug("alerts: subscriber buffer full, notification dropped", "rule", r.ID)
		}
	}

	if cb != nil {
		e.invokeCallback(cb, n)
	}
	if webhookURL != "" {
		go e.postWebhook(n)
	}
}

// invokeCallback runs the configured callback with panic containment.
func (e *Engine) invokeCallback(cb func(*Notification), n *Notification) {
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error("alerts: notification callback failed",
				"rule", n.RuleID, "err", fmt.Sprint(rec))
		}
	}()
	cb(n)
}

// ClearFailures resets the failure windows for endpoint across every rule.
// The endpoint is normalized the same way the windows are keyed.
func (e *Engine) ClearFailures(endpoint string) {
	e.windows.clearEndpoint(NormalizeEndpoint(endpoint))
}

// FailureCount returns the summed window sizes for endpoint across all
// rules, after trimming expired failures.
func (e *Engine) FailureCount(endpoint string) int {
	return e.windows.endpointTotal(NormalizeEndpoint(endpoint))
}

// AllFailureCounts returns the trimmed window size for every tracked
// (rule, endpoint) pair, keyed "ruleID|endpoint".
func (e *Engine) AllFailureCounts() map[string]int {
	return e.windows.snapshot()
}

// UpdateRules replaces the rule set. All window and cooldown state is
// discarded: counts accumulated under the old rules do not carry over.
func (e *Engine) UpdateRules(rules []Rule) {
	compiled := e.compile(rules)

	e.mu.Lock()
	e.rules = compiled
	e.lastFire = make(map[string]time.Time)
	e.mu.Unlock()

	e.windows.reset()
	e.log.Info("alerts: rules replaced, state reset", "rules", len(compiled))
}

// Close stops the engine and closes every subscriber channel. Ingest becomes
// a no-op.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for ch := range e.subs {
		close(ch)
		delete(e.subs, ch)
	}
}
