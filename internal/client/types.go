package client

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dake/internal/domain"
)

// Market is a market as returned by the API.
type Market struct {
	Address          common.Address `json:"address"`
	Authority        common.Address `json:"authority"`
	MarketID         uint64         `json:"market_id"`
	Question         string         `json:"question"`
	ResolutionTime   int64          `json:"resolution_time"`
	Status           string         `json:"status"`
	Accounting       string         `json:"accounting"`
	SeedLiquidity    uint64         `json:"seed_liquidity"`
	TotalYesAmount   uint64         `json:"total_yes_amount"`
	TotalNoAmount    uint64         `json:"total_no_amount"`
	ParticipantCount uint32         `json:"participant_count"`
	Vault            common.Address `json:"vault"`
	VaultBalance     *uint64        `json:"vault_balance,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty"`
}

// Position is a position as returned by the API. Handles are decimal u128
// strings.
type Position struct {
	Address             common.Address `json:"address"`
	Market              common.Address `json:"market"`
	Owner               common.Address `json:"owner"`
	Amount              uint64         `json:"amount"`
	LockedPayout        uint64         `json:"locked_payout"`
	EncryptedSideHandle string         `json:"encrypted_side_handle"`
	IsWinnerHandle      string         `json:"is_winner_handle,omitempty"`
	Claimed             bool           `json:"claimed"`
	PaidOut             uint64         `json:"paid_out"`
	CreatedAt           time.Time      `json:"created_at"`
	ClaimedAt           *time.Time     `json:"claimed_at,omitempty"`
}

// Checked reports whether check-winner has run for the position.
func (p Position) Checked() bool {
	return p.IsWinnerHandle != ""
}

// WinnerHandle parses the is-winner handle.
func (p Position) WinnerHandle() (domain.Handle, error) {
	if !p.Checked() {
		return domain.Handle{}, fmt.Errorf("client: position %s: %w", p.Address.Hex(), domain.ErrNotChecked)
	}
	return domain.ParseHandle(p.IsWinnerHandle)
}

// CreateMarketRequest are the inputs of CreateMarket. A nil SeedLiquidity or
// an empty Accounting takes the server default.
type CreateMarketRequest struct {
	MarketID       uint64  `json:"market_id"`
	Question       string  `json:"question"`
	ResolutionTime int64   `json:"resolution_time"`
	SeedLiquidity  *uint64 `json:"seed_liquidity,omitempty"`
	Accounting     string  `json:"accounting,omitempty"`
}

// BetReceipt is the result of PlaceBet.
type BetReceipt struct {
	Position   Position `json:"position"`
	Market     Market   `json:"market"`
	Multiplier string   `json:"multiplier"`
}

// ClaimReceipt is the result of Claim.
type ClaimReceipt struct {
	Position   Position `json:"position"`
	Payout     uint64   `json:"payout"`
	Profit     uint64   `json:"profit"`
	Multiplier string   `json:"multiplier"`
}

// Notification is one event frame of the websocket feed.
type Notification struct {
	Channel string       `json:"channel"`
	Event   domain.Event `json:"event"`
}
