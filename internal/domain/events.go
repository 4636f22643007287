package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Signal bus channels.
const (
	ChannelMarkets   = "markets"
	ChannelPositions = "positions"
)

// Event names shared by the signal bus, the audit log and the notifier.
const (
	EventMarketCreated   = "market_created"
	EventMarketClosed    = "market_closed"
	EventMarketResolved  = "market_resolved"
	EventBetPlaced       = "bet_placed"
	EventWinnerChecked   = "winner_checked"
	EventAccessGranted   = "decrypt_access_granted"
	EventWinningsClaimed = "winnings_claimed"
	EventMarketArchived  = "market_archived"
)

// Event is the payload published on the signal bus after a commit. It never
// carries a bettor's side.
type Event struct {
	Type     string          `json:"type"`
	Market   common.Address  `json:"market"`
	Position *common.Address `json:"position,omitempty"`
	Actor    common.Address  `json:"actor"`
	Status   MarketStatus    `json:"status,omitempty"`
	Amount   uint64          `json:"amount,omitempty"`
	At       time.Time       `json:"at"`
}
