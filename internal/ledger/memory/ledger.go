// Package memory is an in-process implementation of domain.Ledger. A single
// mutex serialises transactions and a journal undoes a failed one, so every
// transaction is applied entirely or not at all.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dake/internal/derive"
	"github.com/alanyoungcy/dake/internal/domain"
)

// Ledger holds markets, positions and native balances in memory.
type Ledger struct {
	mu        sync.Mutex
	deriver   *derive.Deriver
	markets   map[common.Address]domain.Market
	positions map[common.Address]domain.Position
	balances  map[common.Address]uint64
	journal   journal
}

var _ domain.Ledger = (*Ledger)(nil)

// New returns an empty ledger. Derived-account transfers are authorised
// against addresses derived under program.
func New(program common.Address) *Ledger {
	return &Ledger{
		deriver:   derive.New(program),
		markets:   make(map[common.Address]domain.Market),
		positions: make(map[common.Address]domain.Position),
		balances:  make(map[common.Address]uint64),
	}
}

// Fund credits addr outside any transaction. It seeds genesis balances.
func (l *Ledger) Fund(_ context.Context, addr common.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balances[addr]
	if bal > math.MaxUint64-amount {
		return fmt.Errorf("memory: fund %s: balance overflow", addr.Hex())
	}
	l.balances[addr] = bal + amount
	return nil
}

// Atomically runs fn under the ledger lock and reverts all of its changes if
// it fails or panics.
func (l *Ledger) Atomically(ctx context.Context, signer common.Address, fn func(domain.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			l.journal.revert(l)
			panic(r)
		}
	}()

	tx := &txn{l: l, signer: signer}
	if err := fn(tx); err != nil {
		l.journal.revert(l)
		return err
	}
	l.journal.reset()
	return nil
}

func (l *Ledger) GetMarket(_ context.Context, addr common.Address) (domain.Market, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.markets[addr]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: market %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return m, nil
}

func (l *Ledger) GetPosition(_ context.Context, addr common.Address) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[addr]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: position %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return p, nil
}

// ListMarkets returns markets ordered by market id, filtered by opts.
func (l *Ledger) ListMarkets(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	l.mu.Lock()
	out := make([]domain.Market, 0, len(l.markets))
	for _, m := range l.markets {
		if opts.Status != "" && m.Status != opts.Status {
			continue
		}
		if opts.Since != nil && m.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !m.CreatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, m)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return paginate(out, opts.Offset, opts.Limit), nil
}

// ListPositions returns the positions of market in creation order.
func (l *Ledger) ListPositions(_ context.Context, market common.Address) ([]domain.Position, error) {
	l.mu.Lock()
	var out []domain.Position
	for _, p := range l.positions {
		if p.Market == market {
			out = append(out, p)
		}
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return out, nil
}

func (l *Ledger) BalanceOf(_ context.Context, addr common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[addr], nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
