package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebhookShipper posts entries as JSON. Unbatched, each entry is posted as one
// object. With BatchSize set, a single goroutine collects entries and posts
// them as a JSON array when the batch is full, on FlushInterval, and on Close.
type WebhookShipper struct {
	url     string
	client  *resty.Client
	timeout time.Duration

	batchSize  int
	flushEvery time.Duration
	queue      chan *LogEntry
	closing    chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
}

// NewWebhookShipper creates a new webhook shipper
func NewWebhookShipper(cfg *WebhookConfig) (*WebhookShipper, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	flushEvery := cfg.FlushInterval
	if flushEvery <= 0 {
		flushEvery = 5 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "uilm-audit/1").
		SetHeaders(cfg.Headers)
	if cfg.Retries > 0 {
		client.SetRetryCount(cfg.Retries).
			SetRetryWaitTime(200 * time.Millisecond).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() >= http.StatusInternalServerError
			})
	}

	ws := &WebhookShipper{
		url:        cfg.URL,
		client:     client,
		timeout:    timeout,
		batchSize:  cfg.BatchSize,
		flushEvery: flushEvery,
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	if ws.batchSize > 0 {
		ws.queue = make(chan *LogEntry, 4*ws.batchSize)
		go ws.loop()
	} else {
		close(ws.done)
	}
	return ws, nil
}

// Ship posts entry, or queues it when batching. A full queue falls back to a
// direct post so entries are never dropped silently.
func (ws *WebhookShipper) Ship(ctx context.Context, entry *LogEntry) error {
	if ws.queue != nil {
		select {
		case <-ws.closing:
		case ws.queue <- entry:
			return nil
		default:
		}
	}
	return ws.post(ctx, entry)
}

// loop owns the pending batch; nothing else touches it.
func (ws *WebhookShipper) loop() {
	defer close(ws.done)

	ticker := time.NewTicker(ws.flushEvery)
	defer ticker.Stop()

	pending := make([]*LogEntry, 0, ws.batchSize)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), ws.timeout)
		defer cancel()
		if err := ws.post(ctx, pending); err != nil {
			slog.Warn("failed to send audit batch", "entries", len(pending), "error", err)
		}
		pending = pending[:0]
	}

	for {
		select {
		case entry := <-ws.queue:
			pending = append(pending, entry)
			if len(pending) >= ws.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ws.closing:
			for {
				select {
				case entry := <-ws.queue:
					pending = append(pending, entry)
					if len(pending) >= ws.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ws *WebhookShipper) post(ctx context.Context, body interface{}) error {
	resp, err := ws.client.R().SetContext(ctx).SetBody(body).Post(ws.url)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}

// Close flushes the pending batch and stops the batch loop.
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() { close(ws.closing) })
	<-ws.done
	return nil
}
