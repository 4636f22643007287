package memory

import (
	"context"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dake/internal/domain"
)

// txn is the LedgerTx handed to Atomically callbacks. It is only valid while
// the callback runs, with the ledger lock held.
type txn struct {
	l      *Ledger
	signer common.Address
}

func (t *txn) Signer() common.Address { return t.signer }

func (t *txn) Market(_ context.Context, addr common.Address) (domain.Market, error) {
	m, ok := t.l.markets[addr]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: market %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return m, nil
}

func (t *txn) CreateMarket(_ context.Context, m domain.Market) error {
	if _, ok := t.l.markets[m.Address]; ok {
		return fmt.Errorf("memory: market %s: %w", m.Address.Hex(), domain.ErrAlreadyExists)
	}
	t.l.journal.append(marketChange{addr: m.Address})
	t.l.markets[m.Address] = m
	return nil
}

func (t *txn) PutMarket(_ context.Context, m domain.Market) error {
	prev, ok := t.l.markets[m.Address]
	if !ok {
		return fmt.Errorf("memory: market %s: %w", m.Address.Hex(), domain.ErrNotFound)
	}
	t.l.journal.append(marketChange{addr: m.Address, prev: &prev})
	t.l.markets[m.Address] = m
	return nil
}

func (t *txn) Position(_ context.Context, addr common.Address) (domain.Position, error) {
	p, ok := t.l.positions[addr]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: position %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return p, nil
}

func (t *txn) CreatePosition(_ context.Context, p domain.Position) error {
	if _, ok := t.l.positions[p.Address]; ok {
		return fmt.Errorf("memory: position %s: %w", p.Address.Hex(), domain.ErrAlreadyExists)
	}
	t.l.journal.append(positionChange{addr: p.Address})
	t.l.positions[p.Address] = p
	return nil
}

func (t *txn) PutPosition(_ context.Context, p domain.Position) error {
	prev, ok := t.l.positions[p.Address]
	if !ok {
		return fmt.Errorf("memory: position %s: %w", p.Address.Hex(), domain.ErrNotFound)
	}
	t.l.journal.append(positionChange{addr: p.Address, prev: &prev})
	t.l.positions[p.Address] = p
	return nil
}

func (t *txn) Balance(_ context.Context, addr common.Address) (uint64, error) {
	return t.l.balances[addr], nil
}

func (t *txn) Transfer(ctx context.Context, from, to common.Address, amount uint64) error {
	if from != t.signer {
		return fmt.Errorf("memory: transfer from %s signed by %s: %w", from.Hex(), t.signer.Hex(), domain.ErrTransferDenied)
	}
	return t.move(from, to, amount)
}

func (t *txn) TransferDerived(_ context.Context, seeds [][]byte, to common.Address, amount uint64) error {
	return t.move(t.l.deriver.Address(seeds), to, amount)
}

func (t *txn) move(from, to common.Address, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	fromBal := t.l.balances[from]
	if fromBal < amount {
		return fmt.Errorf("memory: %s has %d, needs %d: %w", from.Hex(), fromBal, amount, domain.ErrInsufficientFunds)
	}
	toBal := t.l.balances[to]
	if toBal > math.MaxUint64-amount {
		return fmt.Errorf("memory: credit %s: balance overflow", to.Hex())
	}
	t.l.journal.append(balanceChange{addr: from, prev: fromBal})
	t.l.journal.append(balanceChange{addr: to, prev: toBal})
	t.l.balances[from] = fromBal - amount
	t.l.balances[to] = toBal + amount
	return nil
}
