package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MaxQuestionLen is the maximum question length in bytes.
const MaxQuestionLen = 256

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen        MarketStatus = "open"
	MarketStatusClosed      MarketStatus = "closed"
	MarketStatusResolvedYes MarketStatus = "resolved_yes"
	MarketStatusResolvedNo  MarketStatus = "resolved_no"
)

// Accounting selects how a market computes payouts. A market uses exactly one
// scheme for its whole life.
type Accounting string

const (
	// AccountingLocked fixes each position's payout at bet time from the
	// pool state right after the bet.
	AccountingLocked Accounting = "locked"
	// AccountingPool pays bet * total_pool / winning_pool at claim time.
	AccountingPool Accounting = "pool"
)

// Valid reports whether a is a known accounting scheme.
func (a Accounting) Valid() bool {
	return a == AccountingLocked || a == AccountingPool
}

// Side values as supplied to PlaceBet and encrypted for the oracle.
const (
	SideNo  uint8 = 0
	SideYes uint8 = 1
)

// Market is a single yes/no question with its aggregated betting pool.
type Market struct {
	Address          common.Address
	Authority        common.Address
	MarketID         uint64
	Question         string
	ResolutionTime   int64
	Status           MarketStatus
	Accounting       Accounting
	SeedLiquidity    uint64
	TotalYesAmount   uint64
	TotalNoAmount    uint64
	ParticipantCount uint32
	Vault            common.Address
	CreatedAt        time.Time
	ResolvedAt       *time.Time
}

// IsOpen reports whether the market accepts bets.
func (m *Market) IsOpen() bool {
	return m.Status == MarketStatusOpen
}

// IsResolved reports whether the market has reached a terminal state.
func (m *Market) IsResolved() bool {
	return m.Status == MarketStatusResolvedYes || m.Status == MarketStatusResolvedNo
}

// WinningSide returns the resolved side (1 YES, 0 NO). ok is false while the
// market is unresolved.
func (m *Market) WinningSide() (side uint8, ok bool) {
	switch m.Status {
	case MarketStatusResolvedYes:
		return SideYes, true
	case MarketStatusResolvedNo:
		return SideNo, true
	default:
		return 0, false
	}
}

// Pools returns (winning, losing) pool totals for the resolved outcome.
func (m *Market) Pools() (winning, losing uint64, ok bool) {
	switch m.Status {
	case MarketStatusResolvedYes:
		return m.TotalYesAmount, m.TotalNoAmount, true
	case MarketStatusResolvedNo:
		return m.TotalNoAmount, m.TotalYesAmount, true
	default:
		return 0, 0, false
	}
}
