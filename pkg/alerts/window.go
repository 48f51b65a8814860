package alerts

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// NormalizeEndpoint reduces a URL to scheme://host/path, stripping query
// string and fragment, so retries of the same endpoint with different
// parameters count into one failure window. Unparseable or host-less inputs
// are used verbatim.
func NormalizeEndpoint(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host + u.Path
}

// failureWindows tracks failure timestamps per (rule, normalized endpoint).
// Every read and insert first trims timestamps older than the rule's time
// window, so counts never include expired failures.
//
// Keys are "ruleID|endpoint". The clock is injectable for deterministic tests.
type failureWindows struct {
	mu    sync.Mutex
	times map[string][]time.Time
	spans map[string]time.Duration
	now   func() time.Time
}

func newFailureWindows() *failureWindows {
	return &failureWindows{
		times: make(map[string][]time.Time),
		spans: make(map[string]time.Duration),
		now:   time.Now,
	}
}

func windowKey(ruleID, endpoint string) string { return ruleID + "|" + endpoint }

// record appends a failure at the current time, trims the window to span,
// and returns the resulting count.
func (w *failureWindows) record(ruleID, endpoint string, span time.Duration) int {
	now := w.now()
	key := windowKey(ruleID, endpoint)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.spans[key] = span
	trimmed := trim(append(w.times[key], now), now.Add(-span))
	w.times[key] = trimmed
	return len(trimmed)
}

// count returns the current window size for one rule and endpoint, trimming
// first.
func (w *failureWindows) count(ruleID, endpoint string) int {
	now := w.now()
	key := windowKey(ruleID, endpoint)

	w.mu.Lock()
	defer w.mu.Unlock()

	trimmed := trim(w.times[key], now.Add(-w.spans[key]))
	w.times[key] = trimmed
	return len(trimmed)
}

// endpointTotal sums window sizes across all rules for one normalized
// endpoint, trimming each window first.
func (w *failureWindows) endpointTotal(endpoint string) int {
	now := w.now()
	suffix := "|" + endpoint

	w.mu.Lock()
	defer w.mu.Unlock()

	total := 0
	for key, ts := range w.times {
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		trimmed := trim(ts, now.Add(-w.spans[key]))
		w.times[key] = trimmed
		total += len(trimmed)
	}
	return total
}

// snapshot returns trimmed counts for every tracked (rule, endpoint) pair,
// keyed "ruleID|endpoint". Empty windows are omitted.
func (w *failureWindows) snapshot() map[string]int {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[string]int, len(w.times))
	for key, ts := range w.times {
		trimmed := trim(ts, now.Add(-w.spans[key]))
		w.times[key] = trimmed
		if len(trimmed) > 0 {
			out[key] = len(trimmed)
		}
	}
	return out
}

// clearEndpoint drops the windows for one normalized endpoint across all rules.
func (w *failureWindows) clearEndpoint(endpoint string) {
	suffix := "|" + endpoint

	w.mu.Lock()
	defer w.mu.Unlock()

	for key := range w.times {
		if strings.HasSuffix(key, suffix) {
			delete(w.times, key)
			delete(w.spans, key)
		}
	}
}

// reset discards every window. Called on rule-set replacement.
func (w *failureWindows) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.times = make(map[string][]time.Time)
	w.spans = make(map[string]time.Duration)
}

// trim drops timestamps strictly before cutoff. Timestamps are appended in
// order, so a single scan from the front suffices.
func trim(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append([]time.Time(nil), ts[i:]...)
}
