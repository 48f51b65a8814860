package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sachinkoro/logarte/pkg/entry"
)

// Default values applied when Options fields are zero.
const (
	DefaultBatchSize = 20
	DefaultInterval  = 10 * time.Second
	DefaultTimeout   = 10 * time.Second
	DefaultCapacity  = 1000
)

// criticalKeywords marks plain messages that force an immediate send. The
// substring match is heuristic and reproduced as-is.
var criticalKeywords = []string{"error", "exception", "crash"}

// Options configures a Pipeline. Endpoint and identity can be replaced later
// via UpdateConfig without dropping queued entries.
type Options struct {
	// Endpoint is the collector's batch URL, e.g. "https://collector.example.com/logs/batch".
	Endpoint string

	// APIKey is sent as "Authorization: Bearer <key>".
	APIKey string
	UserID string
	TeamID string

	// BatchingEnabled gates accumulation. When false every enqueue triggers
	// a send attempt.
	BatchingEnabled bool

	// BatchSize is the queue length that triggers a send (default 20).
	BatchSize int

	// Interval drives periodic sends and retries (default 10s).
	Interval time.Duration

	// Timeout bounds each remote call (default 10s). A timeout is handled
	// exactly like a connection error: the batch is retried.
	Timeout time.Duration

	// Capacity bounds the pending queue (default 1000). Overflow drops the
	// oldest unsent entry.
	Capacity int

	Logger *slog.Logger

	// Transport overrides the HTTP round tripper. Injectable for tests.
	Transport http.RoundTripper
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Capacity <= 0 {
		o.Capacity = DefaultCapacity
	}
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	Queued  int
	Sent    uint64
	Dropped uint64
	Online  bool
}

// Pipeline accumulates entries and delivers them to the collector in the
// background. Enqueue never blocks on I/O; all network work happens in the
// run loop or in FlushNow.
type Pipeline struct {
	mu     sync.Mutex
	opts   Options
	online bool
	sent   uint64

	// sendMu serializes batch sends so at most one is in flight; without it
	// a FlushNow racing the run loop could interleave batches and break the
	// head-retry ordering.
	sendMu sync.Mutex

	q      *pendingQueue
	kick   chan struct{}
	client *http.Client
	log    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Pipeline and starts its background run loop. Callers must
// Close it to stop the loop.
func New(opts Options) *Pipeline {
	opts.applyDefaults()
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	client := &http.Client{}
	if opts.Transport != nil {
		client.Transport = opts.Transport
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		opts:   opts,
		online: true,
		q:      newPendingQueue(opts.Capacity),
		kick:   make(chan struct{}, 1),
		client: client,
		log:    log,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.run(ctx)
	return p
}

// Enqueue serializes e and appends it to the pending queue. Never blocks on
// I/O and never returns an error to the caller: serialization failures are
// logged and the entry is dropped.
func (p *Pipeline) Enqueue(e entry.Entry) {
	if e == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		p.log.Warn("pipeline: entry not serializable, dropped", "kind", e.Kind(), "err", err)
		return
	}

	if p.q.push(item{id: e.ID(), payload: payload}) {
		p.log.Warn("pipeline: queue full, dropped oldest entry", "cap", p.capacity())
	}

	p.mu.Lock()
	batchSize := p.opts.BatchSize
	batching := p.opts.BatchingEnabled
	p.mu.Unlock()

	switch {
	case critical(e):
		// Critical entries bypass the size threshold.
		p.kickSend()
	case !batching:
		p.kickSend()
	case p.q.len() >= batchSize:
		p.kickSend()
	}
}

// FlushNow synchronously delivers everything pending. On failure the
// attempted batch is back at the head of the queue and the error describes
// the first failed call.
func (p *Pipeline) FlushNow(ctx context.Context) (Ack, error) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	total := 0
	for p.q.len() > 0 {
		batch := p.q.take(p.batchSize())
		if len(batch) == 0 {
			break
		}
		if err := p.post(ctx, batch); err != nil {
			p.q.requeue(batch)
			return Ack{Delivered: total}, err
		}
		total += len(batch)
		p.mu.Lock()
		p.sent += uint64(len(batch))
		p.mu.Unlock()
	}
	return Ack{Delivered: total, At: time.Now()}, nil
}

// SetOnline records a connectivity transition. Going offline suppresses send
// attempts; the offline→online edge triggers an immediate send.
func (p *Pipeline) SetOnline(online bool) {
	p.mu.Lock()
	was := p.online
	p.online = online
	p.mu.Unlock()

	if online && !was {
		p.log.Info("pipeline: back online")
		p.kickSend()
	}
	if !online && was {
		p.log.Info("pipeline: offline, buffering")
	}
}

// UpdateConfig replaces the delivery configuration. Queued entries are kept.
func (p *Pipeline) UpdateConfig(opts Options) {
	opts.applyDefaults()

	p.mu.Lock()
	if opts.Logger == nil {
		opts.Logger = p.opts.Logger
	}
	if opts.Transport != nil {
		p.client = &http.Client{Transport: opts.Transport}
	}
	p.opts = opts
	p.mu.Unlock()

	p.log.Info("pipeline: delivery config replaced", "endpoint", opts.Endpoint)
}

// Stats returns current queue and delivery counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Queued:  p.q.len(),
		Sent:    p.sent,
		Dropped: p.q.droppedCount(),
		Online:  p.online,
	}
}

// Close stops the run loop. An in-flight send may complete or be abandoned;
// either way the queue stays consistent — a completed send has already
// removed its batch, an abandoned one has re-inserted it.
func (p *Pipeline) Close() {
	p.cancel()
	<-p.done
}

// --- internal ----------------------------------------------------------------

// run drives periodic sends and retries. The timer is re-armed every
// iteration so interval changes from UpdateConfig take effect naturally.
func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)

	for {
		timer := time.NewTimer(p.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			p.trySend(ctx)
		case <-p.kick:
			timer.Stop()
			p.trySend(ctx)
		}
	}
}

// kickSend coalesces send triggers into the buffered kick channel.
func (p *Pipeline) kickSend() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// trySend drains the queue in batches until empty or a send fails. A failed
// batch goes back to the head and the loop waits for the next trigger.
func (p *Pipeline) trySend(ctx context.Context) {
	p.mu.Lock()
	online := p.online
	p.mu.Unlock()
	if !online {
		return
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	for p.q.len() > 0 {
		batch := p.q.take(p.batchSize())
		if len(batch) == 0 {
			return
		}
		if err := p.post(ctx, batch); err != nil {
			p.q.requeue(batch)
			p.log.Warn("pipeline: batch send failed, requeued",
				"batch", len(batch), "queued", p.q.len(), "err", err)
			return
		}
		p.mu.Lock()
		p.sent += uint64(len(batch))
		p.mu.Unlock()
		p.log.Debug("pipeline: batch delivered", "batch", len(batch))
	}
}

func (p *Pipeline) batchSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts.BatchSize
}

func (p *Pipeline) interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts.Interval
}

func (p *Pipeline) capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts.Capacity
}

// critical classifies entries that warrant an immediate send: failed HTTP
// calls and plain messages that look like errors. The keyword match is a
// heuristic and can misfire on benign messages.
func critical(e entry.Entry) bool {
	switch v := e.(type) {
	case *entry.Network:
		return v.StatusCode >= 400
	case *entry.Plain:
		msg := strings.ToLower(v.Message)
		for _, kw := range criticalKeywords {
			if strings.Contains(msg, kw) {
				return true
			}
		}
	}
	return false
}
