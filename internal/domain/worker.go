package domain

import (
	"fmt"
	"strings"
	"time"
)

// Tunables with spec'd defaults; the broker passes configured values through.
const (
	DefaultWorkerStaleAfter      = 300 * time.Second
	DefaultUptimeRewardThreshold = 600 * time.Second
	// UptimeRewardDivisor scales the model multiplier into an uptime grant.
	UptimeRewardDivisor = 2.75
	// MaxPerformances bounds the rolling per-worker performance window.
	MaxPerformances = 20
)

// Worker is a volunteer generation host. It is keyed by Name in the worker
// index and owned by a user referenced by OAuth id; the link is re-resolved
// through the user index on reload.
type Worker struct {
	ID           string
	Name         string
	OwnerOAuthID string

	// Declared capabilities, overwritten on every check-in.
	Model            string
	MaxLength        int
	MaxContentLength int
	SoftPrompts      []string

	ContributedChars int64
	Fulfilments      int64
	Kudos            float64
	KudosDetails     map[string]float64

	// Performances holds the most recent chars-per-second observations.
	Performances []float64

	UptimeSeconds int64
	// LastCheckIn zero means the worker has never checked in (stale).
	LastCheckIn time.Time
	// LastRewardUptime is the uptime at the last uptime-kudos emission.
	LastRewardUptime int64
}

// NewWorker registers a fresh worker record. Capabilities are filled by the
// first check-in.
func NewWorker(id, name, ownerOAuthID string) *Worker {
	return &Worker{
		ID:           id,
		Name:         name,
		OwnerOAuthID: ownerOAuthID,
		KudosDetails: map[string]float64{
			KudosGenerated: 0,
			KudosUptime:    0,
		},
	}
}

// IsStale reports whether the worker has missed its check-in window. Never
// stored; always computed against the clock.
func (w *Worker) IsStale(now time.Time, staleAfter time.Duration) bool {
	if w.LastCheckIn.IsZero() {
		return true
	}
	return now.Sub(w.LastCheckIn) > staleAfter
}

// ModifyKudos applies a signed delta to the balance; the per-action details
// are volume counters and record the absolute value.
func (w *Worker) ModifyKudos(delta float64, action string) {
	w.Kudos = Round2(w.Kudos + delta)
	if delta < 0 {
		delta = -delta
	}
	if w.KudosDetails == nil {
		w.KudosDetails = map[string]float64{}
	}
	w.KudosDetails[action] = Round2(w.KudosDetails[action] + delta)
}

// WorkerDeclaration is the capability set a worker sends with each check-in.
type WorkerDeclaration struct {
	Model            string
	MaxLength        int
	MaxContentLength int
	SoftPrompts      []string
}

// CheckIn applies one check-in under the declared capabilities. It returns
// the uptime kudos grant due now (0 when none); the caller mirrors a non-zero
// grant onto the owning user's ledger. multiplier prices the declared model.
//
// A worker returning from staleness gets no uptime for the silent interval
// and its reward clock restarts from the current uptime.
func (w *Worker) CheckIn(decl WorkerDeclaration, multiplier float64, now time.Time, staleAfter, rewardThreshold time.Duration) float64 {
	var grant float64
	if !w.IsStale(now, staleAfter) {
		w.UptimeSeconds += int64(now.Sub(w.LastCheckIn).Seconds())
		if w.UptimeSeconds-w.LastRewardUptime > int64(rewardThreshold.Seconds()) {
			grant = Round2(multiplier / UptimeRewardDivisor)
			w.ModifyKudos(grant, KudosUptime)
			w.LastRewardUptime = w.UptimeSeconds
		}
	} else {
		w.LastRewardUptime = w.UptimeSeconds
	}
	w.LastCheckIn = now
	w.Model = decl.Model
	w.MaxLength = decl.MaxLength
	w.MaxContentLength = decl.MaxContentLength
	w.SoftPrompts = decl.SoftPrompts
	return grant
}

// Skip reasons reported when the matcher rejects a worker/prompt pairing.
// The reported tag is the last failing check in declaration order.
const (
	SkipServerID         = "server_id"
	SkipModels           = "models"
	SkipMaxContentLength = "max_content_length"
	SkipMaxLength        = "max_length"
	SkipSoftPrompt       = "matching_softprompt"
)

// CanGenerate decides whether this worker may serve the prompt. On success it
// returns the soft-prompt entry to echo back to the worker (possibly "").
func (w *Worker) CanGenerate(p *WaitingPrompt) (ok bool, matchingSoftPrompt string, skippedReason string) {
	ok = true
	if len(p.Servers) >= 1 && !contains(p.Servers, w.ID) {
		ok = false
		skippedReason = SkipServerID
	}
	if len(p.Models) >= 1 && !contains(p.Models, w.Model) {
		ok = false
		skippedReason = SkipModels
	}
	if w.MaxContentLength < p.MaxContentLength {
		ok = false
		skippedReason = SkipMaxContentLength
	}
	if w.MaxLength < p.MaxLength {
		ok = false
		skippedReason = SkipMaxLength
	}
	matched := false
	for _, sp := range p.SoftPrompts {
		// An empty entry means the caller accepts running with no soft-prompt,
		// which any worker can satisfy.
		if sp == "" {
			matched = true
			matchingSoftPrompt = ""
			break
		}
		for _, name := range w.SoftPrompts {
			if strings.Contains(name, sp) {
				matched = true
				matchingSoftPrompt = sp
				break
			}
		}
		if matched {
			break
		}
	}
	if !matched {
		ok = false
		matchingSoftPrompt = ""
		skippedReason = SkipSoftPrompt
	}
	if ok {
		skippedReason = ""
	}
	return ok, matchingSoftPrompt, skippedReason
}

// RecordPerformance appends a chars-per-second observation, keeping only the
// most recent MaxPerformances.
func (w *Worker) RecordPerformance(perf float64) {
	w.Performances = append(w.Performances, perf)
	if len(w.Performances) > MaxPerformances {
		w.Performances = w.Performances[1:]
	}
}

// AveragePerformance renders the rolling mean for status surfaces.
func (w *Worker) AveragePerformance() string {
	if len(w.Performances) == 0 {
		return "No requests fulfilled yet"
	}
	var sum float64
	for _, p := range w.Performances {
		sum += p
	}
	return fmt.Sprintf("%v chars per second", Round1(sum/float64(len(w.Performances))))
}

// HumanReadableUptime renders uptime in the largest sensible unit.
func (w *Worker) HumanReadableUptime() string {
	up := w.UptimeSeconds
	switch {
	case up < 60:
		return fmt.Sprintf("%d seconds", up)
	case up < 60*60:
		return fmt.Sprintf("%v minutes", Round2(float64(up)/60))
	case up < 60*60*24:
		return fmt.Sprintf("%v hours", Round2(float64(up)/60/60))
	default:
		return fmt.Sprintf("%v days", Round2(float64(up)/60/60/24))
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
