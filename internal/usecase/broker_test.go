package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-text-broker/internal/domain"
)

// fakeRegistry serves model parameter counts from a map and counts lookups.
type fakeRegistry struct {
	mu     sync.Mutex
	params map[string]float64
	calls  int
}

func (f *fakeRegistry) ParamsBillions(_ context.Context, model string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if p, ok := f.params[model]; ok {
		return p, nil
	}
	return 0, errors.New("model not found")
}

func (f *fakeRegistry) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBroker(reg *fakeRegistry) (*Broker, *testClock) {
	if reg == nil {
		reg = &fakeRegistry{params: map[string]float64{"gpt-j-6b": 6}}
	}
	clk := newTestClock()
	b := NewBroker(reg, Options{
		AllowAnonymous: true,
		Clock:          clk.Now,
	})
	return b, clk
}

func TestCreateUserMintsKeyAndMonotonicID(t *testing.T) {
	b, _ := newTestBroker(nil)

	alice, err := b.CreateUser("alice", "oauth-alice", "")
	require.NoError(t, err)
	bob, err := b.CreateUser("bob", "oauth-bob", "")
	require.NoError(t, err)

	assert.Equal(t, 1, alice.ID)
	assert.Equal(t, 2, bob.ID)
	assert.Equal(t, "alice#1", alice.Alias)
	assert.Len(t, alice.APIKey, 32)
	assert.NotEqual(t, alice.APIKey, bob.APIKey)

	_, err = b.CreateUser("mallory", "oauth-alice", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestAuthenticate(t *testing.T) {
	b, clk := newTestBroker(nil)
	alice, err := b.CreateUser("alice", "oauth-alice", "")
	require.NoError(t, err)

	clk.Advance(time.Minute)
	got, err := b.Authenticate(alice.APIKey)
	require.NoError(t, err)
	assert.Equal(t, "alice#1", got.Alias)
	assert.Equal(t, clk.Now(), got.LastActive)

	_, err = b.Authenticate("bogus-key")
	assert.ErrorIs(t, err, domain.ErrUnknownUser)

	anon, err := b.Authenticate(domain.AnonAPIKey)
	require.NoError(t, err)
	assert.True(t, anon.Anonymous)
}

func TestAnonymousGate(t *testing.T) {
	reg := &fakeRegistry{params: map[string]float64{}}
	clk := newTestClock()
	b := NewBroker(reg, Options{AllowAnonymous: false, Clock: clk.Now})

	_, err := b.Authenticate(domain.AnonAPIKey)
	assert.ErrorIs(t, err, domain.ErrAnonymousForbidden)

	_, err = b.GetUserByOAuthID(domain.AnonOAuthID)
	assert.ErrorIs(t, err, domain.ErrAnonymousForbidden)

	// The record still exists for internal accounting, it is just gated.
	views := b.ListUsers()
	assert.Len(t, views, 1)
}

func TestGetUserByAlias(t *testing.T) {
	b, _ := newTestBroker(nil)
	_, err := b.CreateUser("alice", "oauth-alice", "")
	require.NoError(t, err)

	got, err := b.GetUserByAlias("alice#1")
	require.NoError(t, err)
	assert.Equal(t, "oauth-alice", got.OAuthID)

	_, err = b.GetUserByAlias("alice")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = b.GetUserByAlias("alice#9")
	assert.ErrorIs(t, err, domain.ErrUnknownUser)
}

func TestLoadStateDropsOrphanWorkers(t *testing.T) {
	b, clk := newTestBroker(nil)

	alice := domain.NewUser("alice", "oauth-alice", "", clk.Now())
	alice.ID = 5
	alice.Kudos = 42

	owned := *domain.NewWorker("w-1", "rig-1", "oauth-alice")
	orphan := *domain.NewWorker("w-2", "rig-2", "oauth-gone")

	b.LoadState([]domain.User{*alice}, []domain.Worker{owned, orphan}, domain.NewStats())

	got, err := b.GetUserByOAuthID("oauth-alice")
	require.NoError(t, err)
	assert.Equal(t, 42.0, got.Kudos)

	names := make([]string, 0)
	for _, w := range b.ListWorkers() {
		names = append(names, w.Name)
	}
	assert.Equal(t, []string{"rig-1"}, names)

	// Id allocation resumes above the loaded maximum.
	next, err := b.CreateUser("bob", "oauth-bob", "")
	require.NoError(t, err)
	assert.Equal(t, 6, next.ID)
}

func TestModelMultiplierCachesLookupsAndFallback(t *testing.T) {
	reg := &fakeRegistry{params: map[string]float64{"gpt-j-6b": 6}}
	b, _ := newTestBroker(reg)
	ctx := context.Background()

	assert.Equal(t, 6.0, b.modelMultiplier(ctx, "gpt-j-6b"))
	assert.Equal(t, 6.0, b.modelMultiplier(ctx, "gpt-j-6b"))
	assert.Equal(t, 1, reg.callCount())

	// Unknown models fall back to 1 and the failure is cached too.
	assert.Equal(t, 1.0, b.modelMultiplier(ctx, "no-such-model"))
	assert.Equal(t, 1.0, b.modelMultiplier(ctx, "no-such-model"))
	assert.Equal(t, 2, reg.callCount())
}

func TestSnapshotCutExcludesAnonymousWorkers(t *testing.T) {
	b, _ := newTestBroker(nil)
	_, err := b.CreateUser("alice", "oauth-alice", "")
	require.NoError(t, err)

	ctx := context.Background()
	_, _, err = b.Pop(ctx, "oauth-alice", PopRequest{
		Name: "alice-rig", Model: "gpt-j-6b", MaxLength: 512, MaxContentLength: 2048,
	})
	require.NoError(t, err)
	_, _, err = b.Pop(ctx, domain.AnonOAuthID, PopRequest{
		Name: "anon-rig", Model: "gpt-j-6b", MaxLength: 512, MaxContentLength: 2048,
	})
	require.NoError(t, err)

	users, workers, stats := b.SnapshotCut()
	assert.Len(t, users, 2) // anonymous plus alice
	require.Len(t, workers, 1)
	assert.Equal(t, "alice-rig", workers[0].Name)
	assert.Contains(t, stats.ModelMultipliers, "gpt-j-6b")
}

func TestSnapshotCutIsACopy(t *testing.T) {
	b, _ := newTestBroker(nil)
	users, _, _ := b.SnapshotCut()
	require.Len(t, users, 1)
	users[0].KudosDetails[domain.KudosAccumulated] = 999

	fresh, _, _ := b.SnapshotCut()
	assert.Zero(t, fresh[0].KudosDetails[domain.KudosAccumulated])
}
