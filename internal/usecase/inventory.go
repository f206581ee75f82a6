package usecase

import (
	"time"
)

// AvailableModels counts live workers per declared model. Stale workers are
// suppressed from the inventory but never deleted.
func (b *Broker) AvailableModels() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	models := map[string]int{}
	for _, w := range b.workers {
		if w.IsStale(now, b.workerStaleAfter) {
			continue
		}
		models[w.Model]++
	}
	return models
}

// CountActiveWorkers counts workers inside their check-in window.
func (b *Broker) CountActiveWorkers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	n := 0
	for _, w := range b.workers {
		if !w.IsStale(now, b.workerStaleAfter) {
			n++
		}
	}
	return n
}

// CountWaitingFor counts this user's prompts that are not yet completed.
func (b *Broker) CountWaitingFor(oauthID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, p := range b.prompts {
		if p.OwnerOAuthID == oauthID && !b.isCompletedLocked(p) {
			n++
		}
	}
	return n
}

// TotalPendingIterations sums the remaining iterations across the queue.
func (b *Broker) TotalPendingIterations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, p := range b.prompts {
		n += p.N
	}
	return n
}

// WorkerView is a worker as shown on status surfaces.
type WorkerView struct {
	ID               string
	Name             string
	OwnerAlias       string
	Model            string
	MaxLength        int
	MaxContentLength int
	SoftPrompts      []string
	ContributedChars int64
	Fulfilments      int64
	Kudos            float64
	Performance      string
	Uptime           string
	Stale            bool
	LastCheckIn      time.Time
}

// ListWorkers returns copies of every worker record.
func (b *Broker) ListWorkers() []WorkerView {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	out := make([]WorkerView, 0, len(b.workers))
	for _, w := range b.workers {
		alias := ""
		if u := b.users[w.OwnerOAuthID]; u != nil {
			alias = u.UniqueAlias()
		}
		out = append(out, WorkerView{
			ID:               w.ID,
			Name:             w.Name,
			OwnerAlias:       alias,
			Model:            w.Model,
			MaxLength:        w.MaxLength,
			MaxContentLength: w.MaxContentLength,
			SoftPrompts:      append([]string(nil), w.SoftPrompts...),
			ContributedChars: w.ContributedChars,
			Fulfilments:      w.Fulfilments,
			Kudos:            w.Kudos,
			Performance:      w.AveragePerformance(),
			Uptime:           w.HumanReadableUptime(),
			Stale:            w.IsStale(now, b.workerStaleAfter),
			LastCheckIn:      w.LastCheckIn,
		})
	}
	return out
}

// Heartbeat aggregates the broker-wide totals shown on the status endpoint.
type Heartbeat struct {
	ActiveWorkers    int
	QueuedPrompts    int
	QueuedIterations int
	TotalChars       int64
	TotalFulfilments int64
	AveragePerf      float64
	TopContributor   string
	TopWorker        string
}

// GetHeartbeat computes the status totals in one consistent cut.
func (b *Broker) GetHeartbeat() Heartbeat {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	hb := Heartbeat{
		QueuedPrompts: len(b.prompts),
		AveragePerf:   b.stats.RequestAverage(),
	}
	for _, p := range b.prompts {
		hb.QueuedIterations += p.N
	}
	for _, w := range b.workers {
		if !w.IsStale(now, b.workerStaleAfter) {
			hb.ActiveWorkers++
		}
		hb.TotalChars += w.ContributedChars
		hb.TotalFulfilments += w.Fulfilments
	}
	// Top contributor by contributed chars; anonymous excluded.
	var topChars int64
	for _, u := range b.users {
		if u.IsAnonymous() {
			continue
		}
		if u.ContributedChars > topChars {
			topChars = u.ContributedChars
			hb.TopContributor = u.UniqueAlias()
		}
	}
	var topWorkerChars int64
	for _, w := range b.workers {
		if w.ContributedChars > topWorkerChars {
			topWorkerChars = w.ContributedChars
			hb.TopWorker = w.Name
		}
	}
	return hb
}
