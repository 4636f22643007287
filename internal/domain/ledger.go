package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the account substrate. Atomically runs fn as one transaction on
// behalf of signer: if fn returns an error every read-modify-write and
// transfer it performed is discarded.
type Ledger interface {
	Atomically(ctx context.Context, signer common.Address, fn func(tx LedgerTx) error) error

	// Read-only views outside any transaction.
	GetMarket(ctx context.Context, addr common.Address) (Market, error)
	GetPosition(ctx context.Context, addr common.Address) (Position, error)
	ListMarkets(ctx context.Context, opts ListOpts) ([]Market, error)
	ListPositions(ctx context.Context, market common.Address) ([]Position, error)
	BalanceOf(ctx context.Context, addr common.Address) (uint64, error)
}

// LedgerTx is the view of the substrate inside one transaction.
type LedgerTx interface {
	Signer() common.Address

	Market(ctx context.Context, addr common.Address) (Market, error)
	// CreateMarket fails with ErrAlreadyExists if the account exists.
	CreateMarket(ctx context.Context, m Market) error
	PutMarket(ctx context.Context, m Market) error

	Position(ctx context.Context, addr common.Address) (Position, error)
	// CreatePosition fails with ErrAlreadyExists if the account exists.
	CreatePosition(ctx context.Context, p Position) error
	PutPosition(ctx context.Context, p Position) error

	Balance(ctx context.Context, addr common.Address) (uint64, error)
	// Transfer moves native units out of from, which must be the signer.
	Transfer(ctx context.Context, from, to common.Address, amount uint64) error
	// TransferDerived moves native units out of the account derived from
	// seeds, authorised by those seeds.
	TransferDerived(ctx context.Context, seeds [][]byte, to common.Address, amount uint64) error
}
