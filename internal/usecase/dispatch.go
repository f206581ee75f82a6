package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/ai-text-broker/internal/domain"
)

// SubmitRequest carries a caller's prompt submission. N, max_length and
// max_content_length ride inside Params, as they do on the wire.
type SubmitRequest struct {
	Prompt      string
	Params      map[string]any
	Models      []string
	Servers     []string
	SoftPrompts []string
}

// SubmitPrompt validates the submission, confirms at least one live worker
// could ever match it, and only then activates the prompt in the queue. The
// synchronous eligibility check is what lets the API answer "no workers
// available" instead of queueing work that can never run.
func (b *Broker) SubmitPrompt(ownerOAuthID string, req SubmitRequest) (string, error) {
	if req.Prompt == "" {
		return "", fmt.Errorf("%w: prompt required", domain.ErrInvalidArgument)
	}
	params := req.Params
	if params == nil {
		params = map[string]any{}
	}
	softPrompts := req.SoftPrompts
	if len(softPrompts) == 0 {
		softPrompts = []string{""}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	owner, err := b.findByOAuthIDLocked(ownerOAuthID)
	if err != nil {
		return "", err
	}

	n := paramInt(params, "n", 1)
	if n < 1 {
		return "", fmt.Errorf("%w: n must be positive", domain.ErrInvalidArgument)
	}
	if n > domain.MaxIterations {
		slog.Warn("iteration count clamped",
			slog.String("user", owner.UniqueAlias()),
			slog.Int("requested", n),
			slog.Int("max", domain.MaxIterations))
		n = domain.MaxIterations
	}

	now := b.now()
	p := &domain.WaitingPrompt{
		ID:               uuid.NewString(),
		OwnerOAuthID:     owner.OAuthID,
		Prompt:           req.Prompt,
		Models:           req.Models,
		Params:           params,
		N:                n,
		NInitial:         n,
		MaxLength:        paramInt(params, "max_length", domain.DefaultMaxLength),
		MaxContentLength: paramInt(params, "max_content_length", domain.DefaultMaxContentLength),
		SoftPrompts:      softPrompts,
		Servers:          req.Servers,
		CreatedAt:        now,
		LastProcessTime:  now,
	}

	if !b.hasEligibleWorkerLocked(p, now) {
		return "", domain.ErrNoEligibleWorker
	}

	// Activation: the prompt only enters the index once eligibility is known.
	b.promptSeq++
	p.Seq = b.promptSeq
	b.prompts[p.ID] = p
	slog.Info("new prompt request", slog.String("user", owner.UniqueAlias()), slog.String("prompt_id", p.ID))
	return p.ID, nil
}

func (b *Broker) hasEligibleWorkerLocked(p *domain.WaitingPrompt, now time.Time) bool {
	for _, w := range b.workers {
		if w.IsStale(now, b.workerStaleAfter) {
			continue
		}
		if ok, _, _ := w.CanGenerate(p); ok {
			return true
		}
	}
	return false
}

// paramInt reads an integer out of a decoded-JSON parameter map.
func paramInt(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// DispatchRecord is the worker's marching order for one iteration.
type DispatchRecord struct {
	ID         string
	Payload    map[string]any
	SoftPrompt string
}

// SkipReport counts, per reason, the queued prompts the worker could not
// serve. Observability only.
type SkipReport map[string]int

// PopRequest is a worker's check-in declaration.
type PopRequest struct {
	Name             string
	Model            string
	MaxLength        int
	MaxContentLength int
	SoftPrompts      []string
}

// Pop handles one worker check-in: registers the worker on first sight, runs
// the check-in protocol (uptime accrual and reward), then matches the worker
// against the queue in kudos-priority order. The returned dispatch is nil
// when nothing matched; the skip report says why.
func (b *Broker) Pop(ctx context.Context, ownerOAuthID string, req PopRequest) (*DispatchRecord, SkipReport, error) {
	if req.Name == "" {
		return nil, nil, fmt.Errorf("%w: worker name required", domain.ErrInvalidArgument)
	}
	// Resolved before taking the lock: may block on the registry.
	multiplier := b.modelMultiplier(ctx, req.Model)

	b.mu.Lock()
	defer b.mu.Unlock()
	owner, err := b.findByOAuthIDLocked(ownerOAuthID)
	if err != nil {
		return nil, nil, err
	}

	w := b.workers[req.Name]
	if w == nil {
		w = domain.NewWorker(uuid.NewString(), req.Name, owner.OAuthID)
		b.workers[w.Name] = w
		slog.Info("new worker checked in",
			slog.String("worker", w.Name), slog.String("owner", owner.UniqueAlias()))
	}

	now := b.now()
	decl := domain.WorkerDeclaration{
		Model:            req.Model,
		MaxLength:        req.MaxLength,
		MaxContentLength: req.MaxContentLength,
		SoftPrompts:      req.SoftPrompts,
	}
	if grant := w.CheckIn(decl, multiplier, now, b.workerStaleAfter, b.uptimeRewardThreshold); grant > 0 {
		if wOwner := b.users[w.OwnerOAuthID]; wOwner != nil {
			wOwner.RecordUptime(grant)
		}
		slog.Debug("uptime kudos granted",
			slog.String("worker", w.Name), slog.Float64("kudos", grant))
	}

	skips := SkipReport{}
	for _, p := range b.pendingByPriorityLocked() {
		ok, matchingSoftPrompt, reason := w.CanGenerate(p)
		if !ok {
			skips[reason]++
			continue
		}
		return b.startGenerationLocked(p, w, matchingSoftPrompt, now), skips, nil
	}
	return nil, skips, nil
}

// pendingByPriorityLocked orders dispatchable prompts by submitter kudos
// descending, ties broken by insertion order.
func (b *Broker) pendingByPriorityLocked() []*domain.WaitingPrompt {
	pending := make([]*domain.WaitingPrompt, 0, len(b.prompts))
	for _, p := range b.prompts {
		if p.NeedsGeneration() {
			pending = append(pending, p)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		ki, kj := b.ownerKudosLocked(pending[i]), b.ownerKudosLocked(pending[j])
		if ki != kj {
			return ki > kj
		}
		return pending[i].Seq < pending[j].Seq
	})
	return pending
}

func (b *Broker) ownerKudosLocked(p *domain.WaitingPrompt) float64 {
	if u := b.users[p.OwnerOAuthID]; u != nil {
		return u.Kudos
	}
	return 0
}

func (b *Broker) startGenerationLocked(p *domain.WaitingPrompt, w *domain.Worker, matchingSoftPrompt string, now time.Time) *DispatchRecord {
	g := &domain.ProcessingGeneration{
		ID:         uuid.NewString(),
		PromptID:   p.ID,
		WorkerID:   w.ID,
		WorkerName: w.Name,
		Model:      w.Model,
		StartTime:  now,
	}
	b.gens[g.ID] = g
	p.GenerationIDs = append(p.GenerationIDs, g.ID)
	p.N--
	p.Refresh(now)
	return &DispatchRecord{ID: g.ID, Payload: p.GenPayload(), SoftPrompt: matchingSoftPrompt}
}

// SubmitGeneration settles a worker's delivered text: stores it, prices it,
// credits the worker and its owner, debits the submitter, and records the
// rolling performance figures. Posting against a generation that no longer
// exists is a stale dispatch; posting twice is a no-op.
func (b *Broker) SubmitGeneration(ctx context.Context, genID, text string) (float64, error) {
	if text == "" {
		return 0, fmt.Errorf("%w: empty generation", domain.ErrInvalidArgument)
	}
	b.mu.Lock()
	g, ok := b.gens[genID]
	if !ok {
		b.mu.Unlock()
		return 0, domain.ErrStaleDispatch
	}
	model := g.Model
	b.mu.Unlock()

	// Registry call outside the lock; the generation may vanish meanwhile.
	multiplier := b.modelMultiplier(ctx, model)

	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok = b.gens[genID]
	if !ok {
		return 0, domain.ErrStaleDispatch
	}
	if g.IsCompleted() {
		return 0, nil
	}
	g.Generation = text
	now := b.now()

	chars := len(text)
	kudos := domain.ConvertCharsToKudos(chars, multiplier)
	seconds := int64(now.Sub(g.StartTime).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	perf := domain.Round1(float64(chars) / float64(seconds))

	if w := b.workers[g.WorkerName]; w != nil {
		w.RecordPerformance(perf)
		w.ModifyKudos(kudos, domain.KudosGenerated)
		w.ContributedChars += int64(chars)
		w.Fulfilments++
		if wOwner := b.users[w.OwnerOAuthID]; wOwner != nil {
			wOwner.RecordContributions(chars, kudos)
		}
	}
	b.stats.RecordFulfilment(perf)

	if p := b.prompts[g.PromptID]; p != nil {
		p.TotalUsage += int64(chars)
		if submitter := b.users[p.OwnerOAuthID]; submitter != nil {
			submitter.RecordUsage(chars, kudos)
		}
		p.Refresh(now)
	}

	slog.Info("generation delivered",
		slog.String("worker", g.WorkerName),
		slog.Int("chars", chars),
		slog.Float64("kudos", kudos))
	return kudos, nil
}

// GenerationView is a completed iteration as shown to the submitting client.
type GenerationView struct {
	Text       string
	WorkerID   string
	WorkerName string
}

// PromptStatus is the poll response for a queued prompt.
type PromptStatus struct {
	Finished    int
	Processing  int
	Waiting     int
	Done        bool
	Generations []GenerationView
}

// GetPromptStatus reports progress and the completed generations.
func (b *Broker) GetPromptStatus(promptID string) (PromptStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.prompts[promptID]
	if !ok {
		return PromptStatus{}, domain.ErrNotFound
	}
	st := PromptStatus{Waiting: p.N}
	for _, genID := range p.GenerationIDs {
		g := b.gens[genID]
		if g == nil {
			continue
		}
		if g.IsCompleted() {
			st.Finished++
			st.Generations = append(st.Generations, GenerationView{
				Text:       g.Generation,
				WorkerID:   g.WorkerID,
				WorkerName: g.WorkerName,
			})
		} else {
			st.Processing++
		}
	}
	st.Done = b.isCompletedLocked(p)
	return st, nil
}

func (b *Broker) isCompletedLocked(p *domain.WaitingPrompt) bool {
	if p.NeedsGeneration() {
		return false
	}
	for _, genID := range p.GenerationIDs {
		if g := b.gens[genID]; g == nil || !g.IsCompleted() {
			return false
		}
	}
	return true
}

// CancelPrompt deletes a prompt and cascades to its generations.
func (b *Broker) CancelPrompt(promptID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.prompts[promptID]
	if !ok {
		return domain.ErrNotFound
	}
	b.deletePromptLocked(p)
	return nil
}

func (b *Broker) deletePromptLocked(p *domain.WaitingPrompt) {
	for _, genID := range p.GenerationIDs {
		delete(b.gens, genID)
	}
	delete(b.prompts, p.ID)
}

// SweepStalePrompts evicts prompts with no activity inside the staleness
// window and returns how many were deleted. Called by the janitor.
func (b *Broker) SweepStalePrompts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	var stale []*domain.WaitingPrompt
	for _, p := range b.prompts {
		if p.IsStale(now, b.promptStaleAfter) {
			stale = append(stale, p)
		}
	}
	for _, p := range stale {
		b.deletePromptLocked(p)
		slog.Info("stale prompt evicted", slog.String("prompt_id", p.ID))
	}
	return len(stale)
}
