package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dake/internal/derive"
	"github.com/alanyoungcy/dake/internal/domain"
)

// Ledger implements domain.Ledger. Each Atomically call is one SERIALIZABLE
// transaction that locks the rows it reads with FOR UPDATE. A serialization
// failure surfaces as domain.ErrConflict; the caller decides whether to
// retry.
type Ledger struct {
	pool    *pgxpool.Pool
	deriver *derive.Deriver
}

var _ domain.Ledger = (*Ledger)(nil)

// NewLedger creates a Ledger whose derived accounts belong to program.
func NewLedger(pool *pgxpool.Pool, program common.Address) *Ledger {
	return &Ledger{pool: pool, deriver: derive.New(program)}
}

func (l *Ledger) Atomically(ctx context.Context, signer common.Address, fn func(domain.LedgerTx) error) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&ledgerTx{tx: tx, signer: signer, deriver: l.deriver}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("postgres: commit: %w", err))
	}
	return nil
}

// Fund credits addr outside any market operation. It seeds genesis balances.
func (l *Ledger) Fund(ctx context.Context, addr common.Address, amount uint64) error {
	if err := credit(ctx, l.pool, addr, amount); err != nil {
		return fmt.Errorf("postgres: fund %s: %w", addr.Hex(), err)
	}
	return nil
}

func (l *Ledger) GetMarket(ctx context.Context, addr common.Address) (domain.Market, error) {
	return getMarket(ctx, l.pool, addr, false)
}

func (l *Ledger) GetPosition(ctx context.Context, addr common.Address) (domain.Position, error) {
	return getPosition(ctx, l.pool, addr, false)
}

func (l *Ledger) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return listMarkets(ctx, l.pool, opts)
}

func (l *Ledger) ListPositions(ctx context.Context, market common.Address) ([]domain.Position, error) {
	return listPositions(ctx, l.pool, market)
}

func (l *Ledger) BalanceOf(ctx context.Context, addr common.Address) (uint64, error) {
	return balance(ctx, l.pool, addr, false)
}

type ledgerTx struct {
	tx      pgx.Tx
	signer  common.Address
	deriver *derive.Deriver
}

func (t *ledgerTx) Signer() common.Address { return t.signer }

func (t *ledgerTx) Market(ctx context.Context, addr common.Address) (domain.Market, error) {
	return getMarket(ctx, t.tx, addr, true)
}

func (t *ledgerTx) CreateMarket(ctx context.Context, m domain.Market) error {
	return insertMarket(ctx, t.tx, m)
}

func (t *ledgerTx) PutMarket(ctx context.Context, m domain.Market) error {
	return updateMarket(ctx, t.tx, m)
}

func (t *ledgerTx) Position(ctx context.Context, addr common.Address) (domain.Position, error) {
	return getPosition(ctx, t.tx, addr, true)
}

func (t *ledgerTx) CreatePosition(ctx context.Context, p domain.Position) error {
	return insertPosition(ctx, t.tx, p)
}

func (t *ledgerTx) PutPosition(ctx context.Context, p domain.Position) error {
	return updatePosition(ctx, t.tx, p)
}

func (t *ledgerTx) Balance(ctx context.Context, addr common.Address) (uint64, error) {
	return balance(ctx, t.tx, addr, true)
}

func (t *ledgerTx) Transfer(ctx context.Context, from, to common.Address, amount uint64) error {
	if from != t.signer {
		return fmt.Errorf("postgres: transfer from %s signed by %s: %w", from.Hex(), t.signer.Hex(), domain.ErrTransferDenied)
	}
	return move(ctx, t.tx, from, to, amount)
}

func (t *ledgerTx) TransferDerived(ctx context.Context, seeds [][]byte, to common.Address, amount uint64) error {
	return move(ctx, t.tx, t.deriver.Address(seeds), to, amount)
}
