package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/serp-monitor/internal/config"
	"github.com/sells-group/serp-monitor/internal/model"
)

// Message types carried in the webhook and SQS envelopes.
const (
	TypeChange = "change"
	TypeDigest = "digest"
)

// Envelope wraps a payload for JSON sinks.
type Envelope struct {
	Type      string             `json:"type"`
	Change    *model.ChangeEvent `json:"change,omitempty"`
	Digest    *model.Digest      `json:"digest,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

func changeEnvelope(ev model.ChangeEvent) Envelope {
	return Envelope{Type: TypeChange, Change: &ev, Timestamp: time.Now().UTC()}
}

func digestEnvelope(d model.Digest) Envelope {
	return Envelope{Type: TypeDigest, Digest: &d, Timestamp: time.Now().UTC()}
}

// Webhook posts JSON envelopes to a URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a Webhook sink.
func NewWebhook(cfg config.WebhookConfig) *Webhook {
	timeout := 10 * time.Second
	if cfg.TimeoutSecs > 0 {
		timeout = time.Duration(cfg.TimeoutSecs) * time.Second
	}
	return &Webhook{url: cfg.URL, client: &http.Client{Timeout: timeout}}
}

func (w *Webhook) NotifyChange(ctx context.Context, ev model.ChangeEvent) error {
	return w.send(ctx, changeEnvelope(ev))
}

func (w *Webhook) NotifyDigest(ctx context.Context, d model.Digest) error {
	return w.send(ctx, digestEnvelope(d))
}

func (w *Webhook) send(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return eris.Wrap(err, "notify: marshal webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
