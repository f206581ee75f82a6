package usecase

import (
	"fmt"

	"github.com/fairyhunter13/ai-text-broker/internal/domain"
)

// TransferKudos moves kudos between two users by alias. There is no
// fractional reservation: the transfer fails outright when the amount
// exceeds the source's current balance. Anonymous can neither send nor
// receive, and self-transfers are rejected.
func (b *Broker) TransferKudos(srcOAuthID, destAlias string, amount float64) (float64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidArgument)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	src, err := b.findByOAuthIDLocked(srcOAuthID)
	if err != nil {
		return 0, err
	}
	if src.IsAnonymous() {
		return 0, fmt.Errorf("%w: You cannot transfer Kudos from Anonymous, smart-ass.", domain.ErrAnonymousForbidden)
	}
	dst, err := b.findByAliasLocked(destAlias)
	if err != nil {
		return 0, fmt.Errorf("%w: Invalid target username.", domain.ErrUnknownUser)
	}
	if dst.IsAnonymous() {
		return 0, fmt.Errorf("%w: Tried to burn kudos via sending to Anonymous. Assuming PEBKAC and aborting.", domain.ErrAnonymousForbidden)
	}
	if dst == src {
		return 0, fmt.Errorf("%w: Cannot send kudos to yourself, ya monkey!", domain.ErrSelfTransfer)
	}
	if amount > src.Kudos {
		return 0, fmt.Errorf("%w: Not enough kudos.", domain.ErrInsufficientKudos)
	}
	src.ModifyKudos(-amount, domain.KudosGifted)
	dst.ModifyKudos(amount, domain.KudosReceived)
	return amount, nil
}

// TransferKudosFromAPIKey is the front door used by the HTTP surface: the
// source is resolved from its API key.
func (b *Broker) TransferKudosFromAPIKey(apiKey, destAlias string, amount float64) (float64, error) {
	b.mu.Lock()
	src, err := b.findByAPIKeyLocked(apiKey)
	b.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("%w: Invalid API Key.", domain.ErrUnknownUser)
	}
	return b.TransferKudos(src.OAuthID, destAlias, amount)
}
