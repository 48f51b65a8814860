package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sachinkoro/logarte/pkg/entry"
)

// collector is a fake remote endpoint recording every batch it receives.
type collector struct {
	mu       sync.Mutex
	batches  [][]string // entry ids per request, in arrival order
	headers  []http.Header
	failN    int // fail the first N requests with HTTP 503
	attempts int // every request, including failed ones
}

func (c *collector) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Logs []json.RawMessage `json:"logs"`
		}
		_ = json.Unmarshal(body, &req)

		var ids []string
		for _, raw := range req.Logs {
			var e struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(raw, &e)
			ids = append(ids, e.ID)
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		c.attempts++
		if c.failN > 0 {
			c.failN--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		c.batches = append(c.batches, ids)
		c.headers = append(c.headers, r.Header.Clone())
		w.WriteHeader(http.StatusOK)
	}
}

func (c *collector) attemptCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *collector) received() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]string, len(c.batches))
	copy(out, c.batches)
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestPipeline builds a pipeline pointed at srv with a long interval so
// only explicit triggers (size, critical, flush, online edge) cause sends.
func newTestPipeline(t *testing.T, srv *httptest.Server, mutate func(*Options)) *Pipeline {
	t.Helper()
	opts := Options{
		Endpoint:        srv.URL,
		APIKey:          "test-key",
		UserID:          "user-1",
		TeamID:          "team-1",
		BatchingEnabled: true,
		BatchSize:       5,
		Interval:        time.Hour,
		Timeout:         2 * time.Second,
		Capacity:        100,
		Logger:          quietLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	p := New(opts)
	t.Cleanup(p.Close)
	return p
}

func plainEntry(msg string) *entry.Plain { return entry.NewPlain(msg, "test") }

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// --- tests -------------------------------------------------------------------

func TestBatchSizeTriggersSend(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(col.handler())
	defer srv.Close()

	p := newTestPipeline(t, srv, nil)

	var want []string
	for i := 0; i < 5; i++ {
		e := plainEntry("routine message")
		want = append(want, e.ID())
		p.Enqueue(e)
	}

	if !waitFor(t, 2*time.Second, func() bool { return len(col.received()) == 1 }) {
		t.Fatalf("got %d requests, want 1", len(col.received()))
	}
	got := col.received()[0]
	if len(got) != 5 {
		t.Fatalf("batch size: got %d entries, want 5", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("batch order: got %v, want %v", got, want)
			break
		}
	}
}

func TestBelowBatchSize_NoSend(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(col.handler())
	defer srv.Close()

	p := newTestPipeline(t, srv, nil)
	for i := 0; i < 4; i++ {
		p.Enqueue(plainEntry("routine message"))
	}

	time.Sleep(100 * time.Millisecond)
	if got := len(col.received()); got != 0 {
		t.Errorf("got %d requests below the batch size, want 0", got)
	}
	if got := p.Stats().Queued; got != 4 {
		t.Errorf("queued: got %d, want 4", got)
	}
}

func TestFailedBatchRetriesAheadOfNewer(t *testing.T) {
	col := &collector{failN: 1}
	srv := httptest.NewServer(col.handler())
	defer srv.Close()

	p := newTestPipeline(t, srv, nil)

	var first []string
	for i := 0; i < 5; i++ {
		e := plainEntry("routine message")
		first = append(first, e.ID())
		p.Enqueue(e)
	}

	// Wait until the failed attempt has happened and requeued the batch.
	if !waitFor(t, 2*time.Second, func() bool {
		return col.attemptCount() >= 1 && p.Stats().Queued == 5 && p.Stats().Sent == 0
	}) {
		t.Fatal("failed batch was not requeued")
	}

	// Entries arriving between the failure and the retry.
	late := plainEntry("routine message")
	p.Enqueue(late)

	if _, err := p.FlushNow(context.Background()); err != nil {
		t.Fatalf("FlushNow: %v", err)
	}

	batches := col.received()
	if len(batches) == 0 {
		t.Fatal("no successful requests")
	}
	got := batches[0]
	if len(got) != 5 {
		t.Fatalf("retried batch: got %d entries, want the original 5", len(got))
	}
	for i := range first {
		if got[i] != first[i] {
			t.Fatalf("retried batch order: got %v, want %v", got, first)
		}
	}

	// The late entry arrives only after the original batch.
	all := flatten(batches)
	if all[len(all)-1] != late.ID() {
		t.Errorf("late entry position: got %v, want last", all)
	}
}

func flatten(batches [][]string) []string {
	var out []string
	for _, b := range batches {
		out = append(out, b...)
	}
	return out
}

func TestCriticalEntryFlushesImmediately(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(col.handler())
	defer srv.Close()

	p := newTestPipeline(t, srv, nil)

	// A single failed call, well below the batch size.
	e := entry.NewNetwork("GET", "https://api.x.com/a")
	e.StatusCode = 500
	p.Enqueue(e)

	if !waitFor(t, 2*time.Second, func() bool { return len(col.received()) == 1 }) {
		t.Fatal("critical entry did not trigger an immediate send")
	}
}

func TestCriticalKeywordsFlushImmediately(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(col.handler())
	defer srv.Close()

	p := newTestPipeline(t, srv, nil)
	p.Enqueue(plainEntry("unexpected Exception in handler"))

	if !waitFor(t, 2*time.Second, func() bool { return len(col.received()) == 1 }) {
		t.Fatal("critical keyword did not trigger an immediate send")
	}
}

func TestBackpressureDropsOldest(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(col.handler())
	defer srv.Close()

	p := newTestPipeline(t, srv, func(o *Options) {
		o.Capacity = 10
		o.BatchSize = 100 // never triggers
	})
	p.SetOnline(false) // keep everything queued

	var ids []string
	for i := 0; i < 15; i++ {
		e := plainEntry("routine message")
		ids = append(ids, e.ID())
		p.Enqueue(e)
	}

	st := p.Stats()
	if st.Queued != 10 {
		t.Errorf("queued: got %d, want the cap of 10", st.Queued)
	}
	if st.Dropped != 5 {
		t.Errorf("dropped: got %d, want 5", st.Dropped)
	}

	// The survivors are the newest ten, still in order.
	p.SetOnline(true)
	if _, err := p.FlushNow(context.Background()); err != nil {
		t.Fatalf("FlushNow: %v", err)
	}
	got := flatten(col.received())
	want := ids[5:]
	if len(got) != len(want) {
		t.Fatalf("delivered: got %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("survivors: got %v, want %v", got, want)
		}
	}
}

func TestOfflineSuppresses_OnlineKicks(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(col.handler())
	defer srv.Close()

	p := newTestPipeline(t, srv, nil)
	p.SetOnline(false)

	for i := 0; i < 5; i++ {
		p.Enqueue(plainEntry("routine message"))
	}

	time.Sleep(100 * time.Millisecond)
	if got := len(col.received()); got != 0 {
		t.Fatalf("offline: got %d requests, want 0", got)
	}

	p.SetOnline(true)
	if !waitFor(t, 2*time.Second, func() bool { return len(col.received()) == 1 }) {
		t.Fatal("online transition did not trigger a send")
	}
}

func TestPeriodicTimerSends(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(col.handler())
	defer srv.Close()

	p := newTestPipeline(t, srv, func(o *Options) {
		o.Interval = 50 * time.Millisecond
	})
	p.Enqueue(plainEntry("routine message")) // below batch size, not critical

	if !waitFor(t, 2*time.Second, func() bool { return len(col.received()) >= 1 }) {
		t.Fatal("periodic timer did not flush the queue")
	}
}

func TestIdentityHeaders(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(col.handler())
	defer srv.Close()

	p := newTestPipeline(t, srv, nil)
	p.Enqueue(plainEntry("routine message"))
	if _, err := p.FlushNow(context.Background()); err != nil {
		t.Fatalf("FlushNow: %v", err)
	}

	col.mu.Lock()
	defer col.mu.Unlock()
	h := col.headers[0]
	if got := h.Get("Authorization"); got != "Bearer test-key" {
		t.Errorf("Authorization: got %q", got)
	}
	if got := h.Get("X-User-ID"); got != "user-1" {
		t.Errorf("X-User-ID: got %q", got)
	}
	if got := h.Get("X-Team-ID"); got != "team-1" {
		t.Errorf("X-Team-ID: got %q", got)
	}
}

func TestFlushNow_ReportsDeliveryError(t *testing.T) {
	col := &collector{failN: 100}
	srv := httptest.NewServer(col.handler())
	defer srv.Close()

	p := newTestPipeline(t, srv, nil)
	p.Enqueue(plainEntry("routine message"))

	_, err := p.FlushNow(context.Background())
	var derr *DeliveryError
	if !errors.As(err, &derr) {
		t.Fatalf("FlushNow: got %v, want *DeliveryError", err)
	}
	if derr.Reason != ReasonStatus || derr.Status != http.StatusServiceUnavailable {
		t.Errorf("DeliveryError: got reason=%q status=%d", derr.Reason, derr.Status)
	}
	if got := p.Stats().Queued; got != 1 {
		t.Errorf("queued after failed flush: got %d, want 1 (requeued)", got)
	}
}

func TestTimeoutFollowsRetryPath(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	p := newTestPipeline(t, srv, func(o *Options) {
		o.Timeout = 50 * time.Millisecond
	})
	p.Enqueue(plainEntry("routine message"))

	_, err := p.FlushNow(context.Background())
	var derr *DeliveryError
	if !errors.As(err, &derr) {
		t.Fatalf("FlushNow: got %v, want *DeliveryError", err)
	}
	if derr.Reason != ReasonTimeout {
		t.Errorf("reason: got %q, want timeout", derr.Reason)
	}
	if got := p.Stats().Queued; got != 1 {
		t.Errorf("queued after timeout: got %d, want 1 (requeued)", got)
	}
}

func TestUpdateConfig_KeepsQueue(t *testing.T) {
	col := &collector{}
	old := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer old.Close()
	replacement := httptest.NewServer(col.handler())
	defer replacement.Close()

	p := newTestPipeline(t, old, nil)
	p.SetOnline(false)
	for i := 0; i < 3; i++ {
		p.Enqueue(plainEntry("routine message"))
	}

	p.UpdateConfig(Options{
		Endpoint:        replacement.URL,
		BatchingEnabled: true,
		BatchSize:       5,
		Interval:        time.Hour,
		Logger:          quietLogger(),
	})
	if got := p.Stats().Queued; got != 3 {
		t.Fatalf("queued after UpdateConfig: got %d, want 3", got)
	}

	p.SetOnline(true)
	if _, err := p.FlushNow(context.Background()); err != nil {
		t.Fatalf("FlushNow to replacement endpoint: %v", err)
	}
	if got := len(flatten(col.received())); got != 3 {
		t.Errorf("delivered to replacement: got %d, want 3", got)
	}
}

func TestBatchingDisabled_SendsEveryEntry(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(col.handler())
	defer srv.Close()

	p := newTestPipeline(t, srv, func(o *Options) {
		o.BatchingEnabled = false
	})
	p.Enqueue(plainEntry("routine message"))

	if !waitFor(t, 2*time.Second, func() bool { return len(col.received()) >= 1 }) {
		t.Fatal("unbatched enqueue did not send")
	}
}
