// event_worker.go implements the EventWorker, which binds the bus consumers to
// the generation, export and migration pipelines and runs the consume loop.
// Each delivery runs on a context detached from the loop's, so shutdown stops
// new deliveries while the ones in flight complete (bounded by the handler
// timeout) and are acknowledged.
package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/uilm/uilm-service/internal/db/models"
	"github.com/uilm/uilm-service/internal/events"
	"github.com/uilm/uilm-service/internal/pipeline"
)

// Generator rebuilds UILM files.
type Generator interface {
	Generate(ctx context.Context, ev events.GenerateUilmFilesEvent) (*models.LanguageFileGenerationHistory, error)
}

// Exporter writes export packages.
type Exporter interface {
	Export(ctx context.Context, ev events.UilmExportEvent) (*pipeline.ExportResult, error)
}

// Migrator copies data between environments.
type Migrator interface {
	Migrate(ctx context.Context, ev events.EnvironmentDataMigrationEvent) error
}

// EventWorker consumes pipeline events.
type EventWorker struct {
	subscriber     events.Subscriber
	generator      Generator
	exporter       Exporter
	migrator       Migrator
	handlerTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEventWorker creates a worker. A zero handlerTimeout defaults to 10 minutes.
func NewEventWorker(subscriber events.Subscriber, gen Generator, exp Exporter, mig Migrator, handlerTimeout time.Duration) *EventWorker {
	if handlerTimeout <= 0 {
		handlerTimeout = 10 * time.Minute
	}
	return &EventWorker{
		subscriber:     subscriber,
		generator:      gen,
		exporter:       exp,
		migrator:       mig,
		handlerTimeout: handlerTimeout,
	}
}

// Register subscribes the pipeline handlers. It must be called once, before Run.
func (w *EventWorker) Register() error {
	handlers := map[events.Type]events.Handler{
		events.TypeGenerateUilmFiles: events.HandlerFor(func(ctx context.Context, ev events.GenerateUilmFilesEvent) error {
			_, err := w.generator.Generate(ctx, ev)
			return err
		}),
		events.TypeUilmExport: events.HandlerFor(func(ctx context.Context, ev events.UilmExportEvent) error {
			_, err := w.exporter.Export(ctx, ev)
			return err
		}),
		events.TypeEnvironmentDataMigration: events.HandlerFor(w.migrator.Migrate),
	}
	for t, h := range handlers {
		if err := w.subscriber.Subscribe(t, w.detach(t, h)); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", t, err)
		}
	}
	return nil
}

// detach runs h on a context that survives cancellation of the consume loop.
func (w *EventWorker) detach(t events.Type, h events.Handler) events.Handler {
	return func(ctx context.Context, env events.Envelope) error {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.handlerTimeout)
		defer cancel()

		start := time.Now()
		err := h(hctx, env)
		if err != nil {
			log.Printf("Event %s (%s, attempt %d) failed after %v: %v", t, env.ID, env.Attempt, time.Since(start), err)
			return err
		}
		log.Printf("Event %s (%s) handled in %v", t, env.ID, time.Since(start))
		return nil
	}
}

// Run blocks in the consume loop until ctx is cancelled.
func (w *EventWorker) Run(ctx context.Context) error {
	log.Println("Event worker started")
	err := w.subscriber.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("event worker stopped: %w", err)
	}
	log.Println("Event worker stopped")
	return nil
}

// Start runs the consume loop in the background; Stop ends it.
func (w *EventWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.Run(ctx); err != nil {
			log.Printf("ERROR: %v", err)
		}
	}()
}

// Stop cancels the consume loop started by Start and waits for it to return.
func (w *EventWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
