// Package telemetry provides logging setup and Prometheus metrics for the UILM
// localization service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP listener started by `uilm serve` and
// `uilm worker`:
//
//	GET http://<host>:<UILM_TELEMETRY_METRICS_PORT>/metrics
//
// Default port: 9090. The endpoint is not mounted on the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Key mutations (save / delete)
//   - Event bus publish and consume outcomes, by event type
//   - File generation and export durations and output counts
//   - Environment migration record counts
//   - Periodic ping results
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// Tenants (project keys) are never used as labels. A deployment hosting thousands
// of projects would otherwise produce one series per project per metric.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}. The path
// label holds the Gin route template (e.g. /api/v1/keys/:id).
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//
// HTTPRequestDuration is a HistogramVec with labels {method, path}.
//
// Example PromQL queries:
//   - p99 latency per route:  histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// KeyMutationsTotal is a CounterVec with labels {operation, outcome}. operation is
// one of "create", "update" or "delete"; outcome is "ok", "invalid" or "error".
//
// Example PromQL queries:
//   - Saves per minute:       sum(rate(uilm_key_mutations_total{operation=~"create|update"}[1m])) * 60
//   - Validation reject rate: rate(uilm_key_mutations_total{outcome="invalid"}[5m])
var KeyMutationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "uilm_key_mutations_total",
		Help: "Total number of key save and delete attempts, by operation and outcome.",
	},
	[]string{"operation", "outcome"},
)

// Event bus metrics.
//
// EventsPublishedTotal is a CounterVec with labels {type, outcome} incremented by
// every Publisher implementation.
//
// EventsConsumedTotal is a CounterVec with labels {type, outcome} where outcome is
// "ack" (handler succeeded), "retry" (handler failed, message left for redelivery)
// or "dead" (delivery limit reached, message moved to the dead-letter stream).
//
// Example PromQL queries:
//   - Consumer failure ratio:  sum(rate(uilm_events_consumed_total{outcome!="ack"}[15m])) / sum(rate(uilm_events_consumed_total[15m]))
//   - Alert on dead letters:   increase(uilm_events_consumed_total{outcome="dead"}[1h]) > 0
var (
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uilm_events_published_total",
			Help: "Total number of events published to the bus, by event type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	EventsConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uilm_events_consumed_total",
			Help: "Total number of event deliveries handled by consumers, by event type and outcome.",
		},
		[]string{"type", "outcome"},
	)
)

// Pipeline metrics, recorded by the generation, export and migration consumers.
//
// PipelineDuration is a HistogramVec with label {pipeline} ("generate", "export",
// "migrate"). Each observation is one consumed event, successful or not.
//
// FilesGeneratedTotal is a CounterVec with label {format} counting UilmFile
// artifacts written to blob storage.
//
// ExportPackagesTotal is a CounterVec with label {packaging} ("zip", "tar.zst").
//
// MigrationRecordsTotal is a CounterVec with label {kind} ("module", "key")
// counting rows written into a target tenant.
//
// Example PromQL queries:
//   - p95 generation time:  histogram_quantile(0.95, sum by (le) (rate(uilm_pipeline_duration_seconds_bucket{pipeline="generate"}[1h])))
//   - Files per format:     sum by (format) (increase(uilm_files_generated_total[1d]))
var (
	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "uilm_pipeline_duration_seconds",
			Help:    "Duration of a single pipeline run, by pipeline.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"pipeline"},
	)

	FilesGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uilm_files_generated_total",
			Help: "Total number of language files written to blob storage, by output format.",
		},
		[]string{"format"},
	)

	ExportPackagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uilm_export_packages_total",
			Help: "Total number of export packages written, by packaging.",
		},
		[]string{"packaging"},
	)

	MigrationRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uilm_migration_records_total",
			Help: "Total number of records copied between environments, by record kind.",
		},
		[]string{"kind"},
	)
)

// PingResultsTotal is a CounterVec with label {outcome} ("ok", "error") incremented
// by the periodic ping job. A flat "ok" series means the job stopped running.
var PingResultsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "uilm_ping_results_total",
		Help: "Total number of periodic ping attempts, by outcome.",
	},
	[]string{"outcome"},
)

// DBOpenConnections is a Gauge tracking the open connections in the sqlx pool. It
// is sampled every 30 seconds by StartDBStatsCollector.
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <UILM_DATABASE_MAX_CONNECTIONS> * 100
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// ObservePipeline records the elapsed time since start against pipeline.
func ObservePipeline(pipeline string, start time.Time) {
	PipelineDuration.WithLabelValues(pipeline).Observe(time.Since(start).Seconds())
}

// StartDBStatsCollector samples pool statistics every 30 seconds until ctx is
// cancelled or the database stops answering pings.
//
//	telemetry.StartDBStatsCollector(ctx, database)
func StartDBStatsCollector(ctx context.Context, db *sqlx.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
