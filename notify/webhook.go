// Package notify delivers condensed audit findings to an ops webhook. Delivery
// is best effort: a failed POST is logged and swallowed, never propagated.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"escrowflow/audit"
)

// Payload is the condensed notification body.
type Payload struct {
	Kind       string            `json:"kind"`
	Timestamp  time.Time         `json:"timestamp"`
	Window     Window            `json:"window"`
	Summary    audit.Summary     `json:"summary"`
	TopItems   []audit.Violation `json:"topItems"`
}

// Window describes the snapshot bounds the findings came from.
type Window struct {
	Take       int `json:"take"`
	OrphanDays int `json:"orphanDays"`
}

type Notifier struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// New builds a notifier. An empty URL disables delivery.
func New(url string, timeout time.Duration, log *slog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Send POSTs the payload as JSON. Errors never fail the caller.
func (n *Notifier) Send(ctx context.Context, payload Payload) {
	if n.url == "" {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.log.Warn("notify: marshal payload", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.log.Warn("notify: build request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("notify: deliver", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.log.Warn("notify: deliver", "error", fmt.Sprintf("status %d", resp.StatusCode))
		return
	}

	n.log.Info("notify: delivered", "kind", payload.Kind, "items", len(payload.TopItems))
}
