package domain

import "math"

// Kudos ledger actions. "accumulated" is a signed balance component; the
// others are volume counters and only ever grow.
const (
	KudosAccumulated = "accumulated"
	KudosGifted      = "gifted"
	KudosReceived    = "received"
	KudosGenerated   = "generated"
	KudosUptime      = "uptime"
)

// Round2 rounds to two decimals. Every balance mutation rounds at the event,
// not on read, so the ledger and its sum never drift more than 0.01 apiece.
func Round2(v float64) float64 { return math.Round(v*100) / 100 }

// Round1 rounds to one decimal (chars-per-second performance figures).
func Round1(v float64) float64 { return math.Round(v*10) / 10 }

// ConvertCharsToKudos prices generated characters under a model multiplier
// (billions of parameters in the model).
func ConvertCharsToKudos(chars int, multiplier float64) float64 {
	return Round2(float64(chars) * multiplier / 100)
}
