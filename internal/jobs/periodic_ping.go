// periodic_ping.go implements the PeriodicPing background job, which issues a GET
// against a configured URL on a fixed interval to keep an upstream endpoint warm.
// The first ping is sent immediately on start. The URL and interval can be
// changed at runtime through UpdateConfig, which the config file watcher calls.
package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/uilm/uilm-service/internal/config"
	"github.com/uilm/uilm-service/internal/telemetry"
)

// PeriodicPing sends keep-alive GET requests.
type PeriodicPing struct {
	client *resty.Client

	mu  sync.RWMutex
	cfg config.PingConfig

	resetCh chan time.Duration
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPeriodicPing creates a ping job for cfg.
func NewPeriodicPing(cfg config.PingConfig) *PeriodicPing {
	return &PeriodicPing{
		client:  resty.New().SetTimeout(30 * time.Second).SetHeader("User-Agent", "uilm-service"),
		cfg:     cfg,
		resetCh: make(chan time.Duration, 1),
		stopCh:  make(chan struct{}),
	}
}

func (p *PeriodicPing) current() config.PingConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Start launches the ping loop. It returns immediately; the loop runs until ctx
// is cancelled or Stop is called. A disabled job pings nothing but keeps
// waiting for a config change that enables it.
func (p *PeriodicPing) Start(ctx context.Context) {
	cfg := p.current()
	if cfg.Enabled && cfg.URL == "" {
		log.Println("Periodic ping: enabled but ping.url is empty, not starting")
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(cfg.Interval())
		defer ticker.Stop()

		log.Printf("Periodic ping started (url: %s, interval: %v, enabled: %t)", cfg.URL, cfg.Interval(), cfg.Enabled)
		p.Ping(ctx)

		for {
			select {
			case <-ticker.C:
				p.Ping(ctx)
			case d := <-p.resetCh:
				ticker.Reset(d)
				log.Printf("Periodic ping interval changed to %v", d)
			case <-p.stopCh:
				log.Println("Periodic ping stopped")
				return
			case <-ctx.Done():
				log.Println("Periodic ping context cancelled")
				return
			}
		}
	}()
}

// Stop signals the loop to exit and waits for it.
func (p *PeriodicPing) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// UpdateConfig swaps in new ping settings. An interval change resets the ticker.
func (p *PeriodicPing) UpdateConfig(cfg config.PingConfig) {
	p.mu.Lock()
	changed := p.cfg.Interval() != cfg.Interval()
	p.cfg = cfg
	p.mu.Unlock()

	if changed {
		// keep only the newest pending interval
		select {
		case <-p.resetCh:
		default:
		}
		p.resetCh <- cfg.Interval()
	}
}

// Ping sends one request and reports whether it succeeded. Client errors are
// logged as warnings and server errors as errors; neither stops the job.
func (p *PeriodicPing) Ping(ctx context.Context) bool {
	cfg := p.current()
	if !cfg.Enabled || cfg.URL == "" {
		return false
	}

	resp, err := p.client.R().SetContext(ctx).Get(cfg.URL)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return false
		}
		log.Printf("ERROR: Periodic ping request to %s failed: %v", cfg.URL, err)
	case resp.StatusCode() >= 500:
		log.Printf("ERROR: Periodic ping failed with server error %d, will retry later", resp.StatusCode())
	case resp.StatusCode() >= 400:
		log.Printf("WARNING: Periodic ping failed with client error %d, check ping.url", resp.StatusCode())
	default:
		telemetry.PingResultsTotal.WithLabelValues("ok").Inc()
		return true
	}
	telemetry.PingResultsTotal.WithLabelValues("error").Inc()
	return false
}
