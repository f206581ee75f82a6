package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-text-broker/internal/domain"
	"github.com/fairyhunter13/ai-text-broker/internal/observability"
	"github.com/fairyhunter13/ai-text-broker/internal/usecase"
)

// PromptSweeper periodically evicts stale prompts. One sweep covers the whole
// index; there is no per-prompt timer.
type PromptSweeper struct {
	broker   *usecase.Broker
	interval time.Duration
}

// NewPromptSweeper builds a sweeper; a non-positive interval falls back to 10s.
func NewPromptSweeper(broker *usecase.Broker, interval time.Duration) *PromptSweeper {
	if broker == nil {
		return nil
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &PromptSweeper{broker: broker, interval: interval}
}

// Run sweeps until the context is canceled.
func (s *PromptSweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("prompt sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *PromptSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("broker.janitor")
	_, span := tracer.Start(ctx, "PromptSweeper.sweepOnce")
	defer span.End()

	evicted := s.broker.SweepStalePrompts()
	span.SetAttributes(attribute.Int("prompts.evicted", evicted))
	if evicted > 0 {
		observability.StalePromptsEvictedTotal.Add(float64(evicted))
	}
}

// Snapshotter is the store the snapshot writer flushes to.
type Snapshotter interface {
	Save(users []domain.User, workers []domain.Worker, stats domain.Stats) error
}

// SnapshotWriter periodically persists a consistent cut of the ledger.
type SnapshotWriter struct {
	broker   *usecase.Broker
	store    Snapshotter
	interval time.Duration
}

// NewSnapshotWriter builds a writer; a non-positive interval falls back to 3s.
func NewSnapshotWriter(broker *usecase.Broker, store Snapshotter, interval time.Duration) *SnapshotWriter {
	if broker == nil || store == nil {
		return nil
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &SnapshotWriter{broker: broker, store: store, interval: interval}
}

// Run writes snapshots until the context is canceled, then writes one final
// snapshot so a clean shutdown loses nothing.
func (w *SnapshotWriter) Run(ctx context.Context) {
	if w == nil {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.writeOnce(context.Background())
			slog.Info("snapshot writer stopping")
			return
		case <-ticker.C:
			w.writeOnce(ctx)
		}
	}
}

func (w *SnapshotWriter) writeOnce(ctx context.Context) {
	tracer := otel.Tracer("broker.janitor")
	_, span := tracer.Start(ctx, "SnapshotWriter.writeOnce")
	defer span.End()

	users, workers, stats := w.broker.SnapshotCut()
	span.SetAttributes(
		attribute.Int("snapshot.users", len(users)),
		attribute.Int("snapshot.workers", len(workers)),
	)
	if err := w.store.Save(users, workers, stats); err != nil {
		span.RecordError(err)
		slog.Error("snapshot write failed", slog.Any("error", err))
	}
}
