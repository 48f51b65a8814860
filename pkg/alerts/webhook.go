package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// postWebhook delivers n to the configured webhook URL. Fire-and-forget:
// failures are logged and never surface to the caller of Ingest.
func (e *Engine) postWebhook(n *Notification) {
	e.mu.Lock()
	url := e.webhookURL
	headers := e.webhookHeaders
	e.mu.Unlock()
	if url == "" {
		return
	}

	if err := e.post(url, headers, n); err != nil {
		e.log.Error("alerts: webhook delivery failed",
			"rule", n.RuleID, "url", url, "err", err)
		return
	}
	e.log.Debug("alerts: webhook delivered", "rule", n.RuleID)
}

func (e *Engine) post(url string, headers map[string]string, n *Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
