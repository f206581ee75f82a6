// Package usecase contains the matching-and-accounting engine.
//
// The Broker owns the four authoritative indexes (prompts, generations,
// users, workers) behind one mutex. Every composite operation the system
// treats as atomic (matching a worker, settling a generation, transferring
// kudos, cutting a snapshot) runs to completion under that lock. The only
// blocking external call, the model-registry lookup, is always performed
// outside it.
package usecase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-text-broker/internal/domain"
)

// Options tune the broker's lifecycle clocks. Zero values fall back to the
// documented defaults.
type Options struct {
	AllowAnonymous        bool
	PromptStaleAfter      time.Duration
	WorkerStaleAfter      time.Duration
	UptimeRewardThreshold time.Duration
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Broker is the core engine. All state access goes through its methods.
type Broker struct {
	mu       sync.Mutex
	users    map[string]*domain.User                 // by oauth id
	workers  map[string]*domain.Worker               // by name
	prompts  map[string]*domain.WaitingPrompt        // by uuid
	gens     map[string]*domain.ProcessingGeneration // by uuid
	stats    domain.Stats
	registry domain.ModelRegistry

	lastUserID int
	promptSeq  int64

	allowAnonymous        bool
	promptStaleAfter      time.Duration
	workerStaleAfter      time.Duration
	uptimeRewardThreshold time.Duration
	now                   func() time.Time
}

// NewBroker constructs an empty broker and ensures the anonymous user exists.
func NewBroker(registry domain.ModelRegistry, opts Options) *Broker {
	b := &Broker{
		users:                 map[string]*domain.User{},
		workers:               map[string]*domain.Worker{},
		prompts:               map[string]*domain.WaitingPrompt{},
		gens:                  map[string]*domain.ProcessingGeneration{},
		stats:                 domain.NewStats(),
		registry:              registry,
		allowAnonymous:        opts.AllowAnonymous,
		promptStaleAfter:      opts.PromptStaleAfter,
		workerStaleAfter:      opts.WorkerStaleAfter,
		uptimeRewardThreshold: opts.UptimeRewardThreshold,
		now:                   opts.Clock,
	}
	if b.promptStaleAfter <= 0 {
		b.promptStaleAfter = domain.DefaultPromptStaleAfter
	}
	if b.workerStaleAfter <= 0 {
		b.workerStaleAfter = domain.DefaultWorkerStaleAfter
	}
	if b.uptimeRewardThreshold <= 0 {
		b.uptimeRewardThreshold = domain.DefaultUptimeRewardThreshold
	}
	if b.now == nil {
		b.now = time.Now
	}
	b.ensureAnonymous()
	return b
}

// LoadState installs a snapshot loaded from disk. Users must be installed
// before workers so worker owner links resolve; workers with an unknown
// owner are dropped with a warning.
func (b *Broker) LoadState(users []domain.User, workers []domain.Worker, stats domain.Stats) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range users {
		u := users[i]
		b.users[u.OAuthID] = &u
		if u.ID > b.lastUserID {
			b.lastUserID = u.ID
		}
	}
	for i := range workers {
		w := workers[i]
		if _, ok := b.users[w.OwnerOAuthID]; !ok {
			slog.Warn("dropping worker with unknown owner",
				slog.String("worker", w.Name), slog.String("oauth_id", w.OwnerOAuthID))
			continue
		}
		b.workers[w.Name] = &w
	}
	if stats.ModelMultipliers != nil {
		b.stats = stats
	}
	if b.stats.ModelMultipliers == nil {
		b.stats.ModelMultipliers = map[string]float64{}
	}
	b.ensureAnonymousLocked()
}

func (b *Broker) ensureAnonymous() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensureAnonymousLocked()
}

func (b *Broker) ensureAnonymousLocked() {
	if _, ok := b.users[domain.AnonOAuthID]; !ok {
		b.users[domain.AnonOAuthID] = domain.NewAnonymousUser(b.now())
	}
}

// UserView is a copy of a user handed across the lock boundary. APIKey is
// only meant for the authenticated caller; public surfaces must drop it.
type UserView struct {
	ID                  int
	Username            string
	OAuthID             string
	Alias               string
	APIKey              string
	InviteID            string
	Kudos               float64
	KudosDetails        map[string]float64
	ContributedChars    int64
	ContributedFulfills int64
	UsedChars           int64
	UsedRequests        int64
	CreationDate        time.Time
	LastActive          time.Time
	Anonymous           bool
}

func viewOf(u *domain.User) UserView {
	details := make(map[string]float64, len(u.KudosDetails))
	for k, v := range u.KudosDetails {
		details[k] = v
	}
	return UserView{
		ID:                  u.ID,
		Username:            u.Username,
		OAuthID:             u.OAuthID,
		Alias:               u.UniqueAlias(),
		APIKey:              u.APIKey,
		InviteID:            u.InviteID,
		Kudos:               u.Kudos,
		KudosDetails:        details,
		ContributedChars:    u.ContributedChars,
		ContributedFulfills: u.ContributedFulfills,
		UsedChars:           u.UsedChars,
		UsedRequests:        u.UsedRequests,
		CreationDate:        u.CreationDate,
		LastActive:          u.LastActive,
		Anonymous:           u.IsAnonymous(),
	}
}

// CreateUser registers a new user and mints its API key. The numeric id is
// monotonic and appended to the username to form the unique alias.
func (b *Broker) CreateUser(username, oauthID, inviteID string) (UserView, error) {
	if username == "" || oauthID == "" {
		return UserView{}, fmt.Errorf("%w: username and oauth_id required", domain.ErrInvalidArgument)
	}
	key, err := newAPIKey()
	if err != nil {
		return UserView{}, fmt.Errorf("%w: api key generation: %v", domain.ErrInternal, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.users[oauthID]; ok {
		return UserView{}, fmt.Errorf("%w: oauth_id already registered", domain.ErrInvalidArgument)
	}
	u := domain.NewUser(username, oauthID, inviteID, b.now())
	b.lastUserID++
	u.ID = b.lastUserID
	u.APIKey = key
	b.users[oauthID] = u
	slog.Info("new user created", slog.String("alias", u.UniqueAlias()))
	return viewOf(u), nil
}

func newAPIKey() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}

// gateAnonymous hides the anonymous user from lookups when anonymous access
// is disabled.
func (b *Broker) gateAnonymous(u *domain.User) (*domain.User, error) {
	if u == nil {
		return nil, domain.ErrUnknownUser
	}
	if u.IsAnonymous() && !b.allowAnonymous {
		return nil, domain.ErrAnonymousForbidden
	}
	return u, nil
}

func (b *Broker) findByOAuthIDLocked(oauthID string) (*domain.User, error) {
	return b.gateAnonymous(b.users[oauthID])
}

func (b *Broker) findByAPIKeyLocked(apiKey string) (*domain.User, error) {
	for _, u := range b.users {
		if u.APIKey == apiKey {
			return b.gateAnonymous(u)
		}
	}
	return nil, domain.ErrUnknownUser
}

func (b *Broker) findByAliasLocked(alias string) (*domain.User, error) {
	name, idStr, ok := strings.Cut(alias, "#")
	if !ok {
		return nil, fmt.Errorf("%w: alias must be username#id", domain.ErrInvalidArgument)
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return nil, fmt.Errorf("%w: alias must be username#id", domain.ErrInvalidArgument)
	}
	for _, u := range b.users {
		if u.Username == name && u.ID == id {
			return b.gateAnonymous(u)
		}
	}
	return nil, domain.ErrUnknownUser
}

// Authenticate resolves an API key to the owning user and refreshes its
// last-active timestamp.
func (b *Broker) Authenticate(apiKey string) (UserView, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, err := b.findByAPIKeyLocked(apiKey)
	if err != nil {
		return UserView{}, err
	}
	u.LastActive = b.now()
	return viewOf(u), nil
}

// GetUserByOAuthID returns a read-only copy of a user.
func (b *Broker) GetUserByOAuthID(oauthID string) (UserView, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, err := b.findByOAuthIDLocked(oauthID)
	if err != nil {
		return UserView{}, err
	}
	return viewOf(u), nil
}

// GetUserByAlias resolves a username#id handle.
func (b *Broker) GetUserByAlias(alias string) (UserView, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, err := b.findByAliasLocked(alias)
	if err != nil {
		return UserView{}, err
	}
	return viewOf(u), nil
}

// ListUsers returns copies of every user in the ledger.
func (b *Broker) ListUsers() []UserView {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]UserView, 0, len(b.users))
	for _, u := range b.users {
		out = append(out, viewOf(u))
	}
	return out
}

// modelMultiplier resolves and memoises the per-model kudos multiplier. The
// registry call runs outside the broker lock; failures fall back to 1 and are
// cached so a broken model name is not re-queried on every settlement.
func (b *Broker) modelMultiplier(ctx context.Context, model string) float64 {
	b.mu.Lock()
	if m, ok := b.stats.ModelMultipliers[model]; ok {
		b.mu.Unlock()
		return m
	}
	b.mu.Unlock()

	multiplier := 1.0
	if b.registry != nil {
		params, err := b.registry.ParamsBillions(ctx, model)
		if err != nil {
			slog.Error("model not found in registry, defaulting multiplier to 1",
				slog.String("model", model), slog.Any("error", err))
		} else {
			multiplier = params
		}
	}

	b.mu.Lock()
	b.stats.ModelMultipliers[model] = multiplier
	b.mu.Unlock()
	return multiplier
}

// SnapshotCut returns a consistent copy of the persistable state: all users,
// all workers except those owned by the anonymous user, and the aggregates.
func (b *Broker) SnapshotCut() ([]domain.User, []domain.Worker, domain.Stats) {
	b.mu.Lock()
	defer b.mu.Unlock()
	users := make([]domain.User, 0, len(b.users))
	for _, u := range b.users {
		users = append(users, copyUser(u))
	}
	workers := make([]domain.Worker, 0, len(b.workers))
	for _, w := range b.workers {
		// Anonymous-owned workers are transient: present in memory so
		// matching works, absent from the snapshot.
		if w.OwnerOAuthID == domain.AnonOAuthID {
			continue
		}
		workers = append(workers, copyWorker(w))
	}
	stats := domain.Stats{
		FulfilmentTimes:  append([]float64(nil), b.stats.FulfilmentTimes...),
		ModelMultipliers: make(map[string]float64, len(b.stats.ModelMultipliers)),
	}
	for k, v := range b.stats.ModelMultipliers {
		stats.ModelMultipliers[k] = v
	}
	return users, workers, stats
}

func copyUser(u *domain.User) domain.User {
	out := *u
	out.KudosDetails = make(map[string]float64, len(u.KudosDetails))
	for k, v := range u.KudosDetails {
		out.KudosDetails[k] = v
	}
	return out
}

func copyWorker(w *domain.Worker) domain.Worker {
	out := *w
	out.KudosDetails = make(map[string]float64, len(w.KudosDetails))
	for k, v := range w.KudosDetails {
		out.KudosDetails[k] = v
	}
	out.SoftPrompts = append([]string(nil), w.SoftPrompts...)
	out.Performances = append([]float64(nil), w.Performances...)
	return out
}
