package integration

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// WebhookConfig configures the HTTP sink
type WebhookConfig struct {
	Endpoint string
	Headers  map[string]string
	Timeout  time.Duration
}

// WebhookSink posts events as JSON to an HTTP endpoint. The topic is sent in
// the X-Dongle-Topic header.
type WebhookSink struct {
	config     WebhookConfig
	httpClient *http.Client
}

// NewWebhookSink creates an HTTP sink
func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &WebhookSink{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name implements Sink
func (w *WebhookSink) Name() string { return "webhook" }

// Send implements Sink
func (w *WebhookSink) Send(ctx context.Context, topic string, _ bool, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Dongle-Topic", topic)
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close implements Sink
func (w *WebhookSink) Close() {
	w.httpClient.CloseIdleConnections()
}
