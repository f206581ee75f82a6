package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-text-broker/internal/domain"
)

func fundedBroker(t *testing.T) *Broker {
	t.Helper()
	b, clk := newTestBroker(nil)
	alice := domain.NewUser("alice", "oauth-alice", "", clk.Now())
	alice.ID = 1
	alice.APIKey = "alice-key"
	alice.Kudos = 50
	bob := domain.NewUser("bob", "oauth-bob", "", clk.Now())
	bob.ID = 2
	bob.APIKey = "bob-key"
	b.LoadState([]domain.User{*alice, *bob}, nil, domain.NewStats())
	return b
}

func TestTransferKudos(t *testing.T) {
	b := fundedBroker(t)

	granted, err := b.TransferKudos("oauth-alice", "bob#2", 12.34)
	require.NoError(t, err)
	assert.Equal(t, 12.34, granted)

	alice, _ := b.GetUserByOAuthID("oauth-alice")
	bob, _ := b.GetUserByOAuthID("oauth-bob")
	assert.Equal(t, 37.66, alice.Kudos)
	assert.Equal(t, 12.34, bob.Kudos)
	assert.Equal(t, 12.34, alice.KudosDetails[domain.KudosGifted])
	assert.Equal(t, 12.34, bob.KudosDetails[domain.KudosReceived])
}

func TestTransferKudosWholeBalance(t *testing.T) {
	b := fundedBroker(t)
	_, err := b.TransferKudos("oauth-alice", "bob#2", 50)
	require.NoError(t, err)
	alice, _ := b.GetUserByOAuthID("oauth-alice")
	assert.Zero(t, alice.Kudos)
}

func TestTransferKudosRejections(t *testing.T) {
	b := fundedBroker(t)

	tests := []struct {
		name    string
		src     string
		dest    string
		amount  float64
		wantErr error
	}{
		{"zero amount", "oauth-alice", "bob#2", 0, domain.ErrInvalidArgument},
		{"negative amount", "oauth-alice", "bob#2", -5, domain.ErrInvalidArgument},
		{"anonymous source", domain.AnonOAuthID, "bob#2", 5, domain.ErrAnonymousForbidden},
		{"unknown source", "oauth-nobody", "bob#2", 5, domain.ErrUnknownUser},
		{"unknown target", "oauth-alice", "nobody#9", 5, domain.ErrUnknownUser},
		{"malformed target alias", "oauth-alice", "bob", 5, domain.ErrUnknownUser},
		{"anonymous target", "oauth-alice", "Anonymous#0", 5, domain.ErrAnonymousForbidden},
		{"self transfer", "oauth-alice", "alice#1", 5, domain.ErrSelfTransfer},
		{"insufficient balance", "oauth-alice", "bob#2", 50.01, domain.ErrInsufficientKudos},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := b.TransferKudos(tc.src, tc.dest, tc.amount)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}

	// No rejection may move any kudos.
	alice, _ := b.GetUserByOAuthID("oauth-alice")
	bob, _ := b.GetUserByOAuthID("oauth-bob")
	assert.Equal(t, 50.0, alice.Kudos)
	assert.Zero(t, bob.Kudos)
}

func TestTransferKudosFromAPIKey(t *testing.T) {
	b := fundedBroker(t)

	granted, err := b.TransferKudosFromAPIKey("alice-key", "bob#2", 10)
	require.NoError(t, err)
	assert.Equal(t, 10.0, granted)

	_, err = b.TransferKudosFromAPIKey("bogus-key", "bob#2", 10)
	assert.ErrorIs(t, err, domain.ErrUnknownUser)
}
