package domain

import (
	"context"
	"time"
)

const (
	// MaxIterations caps the per-prompt iteration count at creation.
	MaxIterations           = 20
	DefaultMaxLength        = 80
	DefaultMaxContentLength = 1024
	DefaultPromptStaleAfter = 600 * time.Second
)

// WaitingPrompt is a queued work-unit. It owns its generations: deleting the
// prompt cascades to them. Cross-entity references are ids resolved through
// the indexes, never long-lived handles.
type WaitingPrompt struct {
	ID           string
	OwnerOAuthID string
	Prompt       string
	// Models restricts eligible workers by declared model; empty means any.
	Models []string
	// Params are opaque generation parameters passed through to the worker.
	Params map[string]any
	// N is the number of iterations still to dispatch.
	N        int
	NInitial int

	MaxLength        int
	MaxContentLength int
	// SoftPrompts filters workers by loaded soft-prompt; an empty string entry
	// means "no soft-prompt acceptable".
	SoftPrompts []string
	// Servers pins the prompt to specific worker ids; empty means any.
	Servers []string

	// GenerationIDs are the children spawned so far, in dispatch order.
	GenerationIDs []string
	TotalUsage    int64

	CreatedAt       time.Time
	LastProcessTime time.Time

	// Seq is the insertion sequence used for stable priority tie-breaking.
	Seq int64
}

// NeedsGeneration reports whether iterations remain to dispatch.
func (p *WaitingPrompt) NeedsGeneration() bool { return p.N > 0 }

// IsStale reports whether the prompt has seen no activity for staleAfter.
func (p *WaitingPrompt) IsStale(now time.Time, staleAfter time.Duration) bool {
	return now.Sub(p.LastProcessTime) > staleAfter
}

// Refresh marks prompt activity, restarting the staleness clock.
func (p *WaitingPrompt) Refresh(now time.Time) { p.LastProcessTime = now }

// GenPayload is the parameter object shipped downstream: the caller's params
// with the prompt embedded and n forced to 1. The broker always dispatches a
// single iteration at a time.
func (p *WaitingPrompt) GenPayload() map[string]any {
	payload := make(map[string]any, len(p.Params)+2)
	for k, v := range p.Params {
		payload[k] = v
	}
	payload["prompt"] = p.Prompt
	payload["n"] = 1
	return payload
}

// ProcessingGeneration is one dispatched iteration, bound to exactly one
// worker. The model is snapshotted at spawn in case the worker swaps models
// before delivering.
type ProcessingGeneration struct {
	ID         string
	PromptID   string
	WorkerID   string
	WorkerName string
	Model      string
	// Generation is the delivered text; empty means still processing.
	Generation string
	StartTime  time.Time
}

// IsCompleted reports whether text has been delivered.
func (g *ProcessingGeneration) IsCompleted() bool { return g.Generation != "" }

// MaxFulfilmentTimes bounds the global rolling performance window.
const MaxFulfilmentTimes = 10

// Stats are broker-wide aggregates, persisted alongside users and workers.
type Stats struct {
	// FulfilmentTimes holds the most recent chars-per-second observations
	// across all generations.
	FulfilmentTimes []float64
	// ModelMultipliers caches model name to parameter-count-in-billions.
	ModelMultipliers map[string]float64
}

// NewStats returns empty aggregates.
func NewStats() Stats {
	return Stats{ModelMultipliers: map[string]float64{}}
}

// RecordFulfilment appends an observation, keeping the most recent
// MaxFulfilmentTimes.
func (s *Stats) RecordFulfilment(perf float64) {
	if len(s.FulfilmentTimes) >= MaxFulfilmentTimes {
		s.FulfilmentTimes = s.FulfilmentTimes[1:]
	}
	s.FulfilmentTimes = append(s.FulfilmentTimes, perf)
}

// RequestAverage is the mean of the rolling fulfilment window.
func (s *Stats) RequestAverage() float64 {
	if len(s.FulfilmentTimes) == 0 {
		return 0
	}
	var sum float64
	for _, t := range s.FulfilmentTimes {
		sum += t
	}
	return Round1(sum / float64(len(s.FulfilmentTimes)))
}

// ModelRegistry resolves a model name to its total parameter count in
// billions. Lookups may block on an external call and must not run under the
// broker lock; failures fall back to a multiplier of 1.
type ModelRegistry interface {
	ParamsBillions(ctx context.Context, model string) (float64, error)
}
