package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dake/internal/derive"
	"github.com/alanyoungcy/dake/internal/domain"
)

var (
	program = common.HexToAddress("0x00000000000000000000000000000000000da4e0")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestLedger_FailedTransactionReverts(t *testing.T) {
	ctx := context.Background()
	l := New(program)
	require.NoError(t, l.Fund(ctx, alice, 100))

	m := domain.Market{Address: common.HexToAddress("0x01"), MarketID: 1, Status: domain.MarketStatusOpen}
	boom := errors.New("boom")

	err := l.Atomically(ctx, alice, func(tx domain.LedgerTx) error {
		require.NoError(t, tx.CreateMarket(ctx, m))
		require.NoError(t, tx.Transfer(ctx, alice, bob, 60))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = l.GetMarket(ctx, m.Address)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	bal, _ := l.BalanceOf(ctx, alice)
	assert.Equal(t, uint64(100), bal)
	bal, _ = l.BalanceOf(ctx, bob)
	assert.Equal(t, uint64(0), bal)
}

func TestLedger_PanickingTransactionReverts(t *testing.T) {
	ctx := context.Background()
	l := New(program)
	require.NoError(t, l.Fund(ctx, alice, 100))

	assert.PanicsWithValue(t, "boom", func() {
		_ = l.Atomically(ctx, alice, func(tx domain.LedgerTx) error {
			if err := tx.Transfer(ctx, alice, bob, 60); err != nil {
				return err
			}
			panic("boom")
		})
	})

	// The next transaction must not commit the aborted transfer.
	require.NoError(t, l.Atomically(ctx, alice, func(tx domain.LedgerTx) error {
		return tx.Transfer(ctx, alice, bob, 10)
	}))
	bal, _ := l.BalanceOf(ctx, alice)
	assert.Equal(t, uint64(90), bal)
	bal, _ = l.BalanceOf(ctx, bob)
	assert.Equal(t, uint64(10), bal)
}

func TestLedger_PutRevertRestoresPrevious(t *testing.T) {
	ctx := context.Background()
	l := New(program)
	m := domain.Market{Address: common.HexToAddress("0x01"), MarketID: 1, Status: domain.MarketStatusOpen}
	require.NoError(t, l.Atomically(ctx, alice, func(tx domain.LedgerTx) error {
		return tx.CreateMarket(ctx, m)
	}))

	_ = l.Atomically(ctx, alice, func(tx domain.LedgerTx) error {
		m2 := m
		m2.Status = domain.MarketStatusClosed
		require.NoError(t, tx.PutMarket(ctx, m2))
		return errors.New("abort")
	})

	got, err := l.GetMarket(ctx, m.Address)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusOpen, got.Status)
}

func TestLedger_TransferAuthorisation(t *testing.T) {
	ctx := context.Background()
	l := New(program)
	require.NoError(t, l.Fund(ctx, alice, 10))

	err := l.Atomically(ctx, bob, func(tx domain.LedgerTx) error {
		return tx.Transfer(ctx, alice, bob, 5)
	})
	assert.ErrorIs(t, err, domain.ErrTransferDenied)

	err = l.Atomically(ctx, alice, func(tx domain.LedgerTx) error {
		return tx.Transfer(ctx, alice, bob, 11)
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestLedger_TransferDerived(t *testing.T) {
	ctx := context.Background()
	l := New(program)
	d := derive.New(program)
	market := d.Market(9)
	vault := d.Vault(market)
	require.NoError(t, l.Fund(ctx, vault, 50))

	require.NoError(t, l.Atomically(ctx, alice, func(tx domain.LedgerTx) error {
		return tx.TransferDerived(ctx, derive.VaultSeeds(market), alice, 20)
	}))
	bal, _ := l.BalanceOf(ctx, vault)
	assert.Equal(t, uint64(30), bal)
	bal, _ = l.BalanceOf(ctx, alice)
	assert.Equal(t, uint64(20), bal)
}

func TestLedger_CreateExisting(t *testing.T) {
	ctx := context.Background()
	l := New(program)
	p := domain.Position{Address: common.HexToAddress("0x02"), Amount: 1}
	require.NoError(t, l.Atomically(ctx, alice, func(tx domain.LedgerTx) error {
		return tx.CreatePosition(ctx, p)
	}))
	err := l.Atomically(ctx, alice, func(tx domain.LedgerTx) error {
		return tx.CreatePosition(ctx, p)
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestLedger_ListMarkets(t *testing.T) {
	ctx := context.Background()
	l := New(program)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, l.Atomically(ctx, alice, func(tx domain.LedgerTx) error {
		for i := uint64(1); i <= 5; i++ {
			st := domain.MarketStatusOpen
			if i%2 == 0 {
				st = domain.MarketStatusResolvedYes
			}
			err := tx.CreateMarket(ctx, domain.Market{
				Address:   common.BigToAddress(new(big.Int).SetUint64(i)),
				MarketID:  i,
				Status:    st,
				CreatedAt: base.Add(time.Duration(i) * time.Hour),
			})
			if err != nil {
				return err
			}
		}
		return nil
	}))

	all, err := l.ListMarkets(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, uint64(1), all[0].MarketID)

	resolved, err := l.ListMarkets(ctx, domain.ListOpts{Status: domain.MarketStatusResolvedYes})
	require.NoError(t, err)
	assert.Len(t, resolved, 2)

	page, err := l.ListMarkets(ctx, domain.ListOpts{Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(2), page[0].MarketID)

	since := base.Add(4 * time.Hour)
	recent, err := l.ListMarkets(ctx, domain.ListOpts{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
