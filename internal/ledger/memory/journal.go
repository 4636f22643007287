package memory

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dake/internal/domain"
)

// journalEntry is a revertible ledger change.
type journalEntry interface {
	revert(l *Ledger)
}

// journal records every change of the running transaction so a failed
// transaction can be rolled back in reverse order.
type journal struct {
	entries []journalEntry
}

func (j *journal) append(e journalEntry) {
	j.entries = append(j.entries, e)
}

func (j *journal) revert(l *Ledger) {
	for i := len(j.entries) - 1; i >= 0; i-- {
		j.entries[i].revert(l)
	}
	j.entries = j.entries[:0]
}

func (j *journal) reset() {
	j.entries = j.entries[:0]
}

type marketChange struct {
	addr common.Address
	prev *domain.Market // nil if the account did not exist
}

func (ch marketChange) revert(l *Ledger) {
	if ch.prev == nil {
		delete(l.markets, ch.addr)
		return
	}
	l.markets[ch.addr] = *ch.prev
}

type positionChange struct {
	addr common.Address
	prev *domain.Position
}

func (ch positionChange) revert(l *Ledger) {
	if ch.prev == nil {
		delete(l.positions, ch.addr)
		return
	}
	l.positions[ch.addr] = *ch.prev
}

type balanceChange struct {
	addr common.Address
	prev uint64
}

func (ch balanceChange) revert(l *Ledger) {
	l.balances[ch.addr] = ch.prev
}
