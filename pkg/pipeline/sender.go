package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Ack confirms a successful flush.
type Ack struct {
	// Delivered is the number of entries the collector acknowledged.
	Delivered int
	At        time.Time
}

// Failure reasons carried by DeliveryError. All three follow the same retry
// path; the reason exists for logging and tests.
const (
	ReasonTimeout    = "timeout"
	ReasonConnection = "connection"
	ReasonStatus     = "status"
)

// DeliveryError describes one failed batch call. The whole batch is
// re-queued regardless of reason.
type DeliveryError struct {
	Reason string
	Status int // set when Reason == ReasonStatus
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Reason == ReasonStatus {
		return fmt.Sprintf("delivery failed: collector returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("delivery failed (%s): %v", e.Reason, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// batchRequest is the collector's wire format: the whole batch is submitted
// and acknowledged as one unit.
type batchRequest struct {
	Logs      []json.RawMessage `json:"logs"`
	Timestamp time.Time         `json:"timestamp"`
}

// post submits one batch. Any non-2xx status, connection error, or timeout
// is a whole-batch failure.
func (p *Pipeline) post(ctx context.Context, batch []item) error {
	p.mu.Lock()
	endpoint := p.opts.Endpoint
	apiKey := p.opts.APIKey
	userID := p.opts.UserID
	teamID := p.opts.TeamID
	timeout := p.opts.Timeout
	client := p.client
	p.mu.Unlock()

	logs := make([]json.RawMessage, len(batch))
	for i, it := range batch {
		logs[i] = it.payload
	}
	body, err := json.Marshal(batchRequest{Logs: logs, Timestamp: time.Now().UTC()})
	if err != nil {
		return &DeliveryError{Reason: ReasonConnection, Err: fmt.Errorf("marshal batch: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Reason: ReasonConnection, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if teamID != "" {
		req.Header.Set("X-Team-ID", teamID)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &DeliveryError{Reason: ReasonTimeout, Err: err}
		}
		return &DeliveryError{Reason: ReasonConnection, Err: err}
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{Reason: ReasonStatus, Status: resp.StatusCode}
	}
	return nil
}
