package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Position is one bettor's stake in one market. It is never deleted; after a
// claim it remains as the settlement record.
type Position struct {
	Address             common.Address
	Market              common.Address
	Owner               common.Address
	Amount              uint64
	LockedPayout        uint64
	EncryptedSideHandle Handle
	IsWinnerHandle      Handle
	Claimed             bool
	PaidOut             uint64
	CreatedAt           time.Time
	ClaimedAt           *time.Time
}

// Checked reports whether check-winner has run for this position.
func (p *Position) Checked() bool {
	return !p.IsWinnerHandle.IsZero()
}
