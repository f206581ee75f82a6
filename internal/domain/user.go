package domain

import (
	"fmt"
	"time"
)

// The anonymous user is a fixed, distinguished account. It can consume and
// accumulate kudos but can never transfer them out, and workers it owns are
// never persisted.
const (
	AnonOAuthID = "anon"
	AnonAPIKey  = "0000000000"
	AnonUserID  = 0
)

// User is a ledger account. Kudos equals the signed sum of every ledger event
// applied since creation, rounded to two decimals at each event.
type User struct {
	ID           int
	Username     string
	OAuthID      string
	APIKey       string
	InviteID     string
	CreationDate time.Time
	LastActive   time.Time

	Kudos        float64
	KudosDetails map[string]float64

	ContributedChars    int64
	ContributedFulfills int64
	UsedChars           int64
	UsedRequests        int64
}

// NewUser builds a user with zeroed counters. The caller assigns ID and APIKey.
func NewUser(username, oauthID, inviteID string, now time.Time) *User {
	return &User{
		Username:     username,
		OAuthID:      oauthID,
		InviteID:     inviteID,
		CreationDate: now,
		LastActive:   now,
		KudosDetails: map[string]float64{
			KudosAccumulated: 0,
			KudosGifted:      0,
			KudosReceived:    0,
		},
	}
}

// NewAnonymousUser builds the distinguished anonymous account.
func NewAnonymousUser(now time.Time) *User {
	u := NewUser("Anonymous", AnonOAuthID, "", now)
	u.ID = AnonUserID
	u.APIKey = AnonAPIKey
	return u
}

// UniqueAlias is the user's stable display handle.
func (u *User) UniqueAlias() string { return fmt.Sprintf("%s#%d", u.Username, u.ID) }

// IsAnonymous reports whether this is the distinguished anonymous account.
func (u *User) IsAnonymous() bool { return u.OAuthID == AnonOAuthID }

// ModifyKudos applies a signed delta to the balance and records it under the
// given action. "accumulated" keeps the sign (it can go negative on
// consumption); the volume counters record the absolute value.
func (u *User) ModifyKudos(delta float64, action string) {
	u.Kudos = Round2(u.Kudos + delta)
	detail := delta
	if action != KudosAccumulated && detail < 0 {
		detail = -detail
	}
	if u.KudosDetails == nil {
		u.KudosDetails = map[string]float64{}
	}
	u.KudosDetails[action] = Round2(u.KudosDetails[action] + detail)
}

// RecordUsage debits the user for consumed generation output.
func (u *User) RecordUsage(chars int, kudos float64) {
	u.UsedChars += int64(chars)
	u.UsedRequests++
	u.ModifyKudos(-kudos, KudosAccumulated)
}

// RecordContributions credits the user for output its worker generated.
func (u *User) RecordContributions(chars int, kudos float64) {
	u.ContributedChars += int64(chars)
	u.ContributedFulfills++
	u.ModifyKudos(kudos, KudosAccumulated)
}

// RecordUptime credits the user for worker uptime.
func (u *User) RecordUptime(kudos float64) {
	u.ModifyKudos(kudos, KudosAccumulated)
}
