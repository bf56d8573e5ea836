// Package notify tells the extension collaborator that a generation run
// finished. Notification is best effort: failures are logged and reported as
// false, never returned as errors.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/uilm/uilm-service/internal/config"
)

// ExtensionNotifier is called once per generation run.
type ExtensionNotifier interface {
	NotifyExtensionEvent(ctx context.Context, success bool, projectKey string) bool
}

// ExtensionEvent is the webhook body.
type ExtensionEvent struct {
	Event      string    `json:"event"`
	ProjectKey string    `json:"project_key"`
	Success    bool      `json:"success"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventUilmFilesGenerated names the event sent after a generation run.
const EventUilmFilesGenerated = "uilm_files_generated"

// Nop never notifies. It is used when the notifier is disabled.
type Nop struct{}

func (Nop) NotifyExtensionEvent(context.Context, bool, string) bool { return true }

// WebhookNotifier POSTs an ExtensionEvent to a fixed URL.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

// New returns a WebhookNotifier for cfg, or Nop when it is disabled.
func New(cfg config.NotifierConfig) ExtensionNotifier {
	if !cfg.Enabled || cfg.URL == "" {
		return Nop{}
	}
	return NewWebhookNotifier(cfg.URL, cfg.Timeout, cfg.Headers)
}

// NewWebhookNotifier creates a webhook notifier. A zero timeout defaults to 10s.
func NewWebhookNotifier(url string, timeout time.Duration, headers map[string]string) *WebhookNotifier {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "uilm-service")
	for k, v := range headers {
		client.SetHeader(k, v)
	}
	return &WebhookNotifier{client: client, url: url}
}

// NotifyExtensionEvent reports whether the collaborator accepted the event.
func (n *WebhookNotifier) NotifyExtensionEvent(ctx context.Context, success bool, projectKey string) bool {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(ExtensionEvent{
			Event:      EventUilmFilesGenerated,
			ProjectKey: projectKey,
			Success:    success,
			Timestamp:  time.Now().UTC(),
		}).
		Post(n.url)
	if err != nil {
		slog.Warn("extension notification failed", "project_key", projectKey, "error", err)
		return false
	}
	if resp.IsError() {
		slog.Warn("extension notification rejected", "project_key", projectKey, "status", resp.StatusCode())
		return false
	}
	return true
}
