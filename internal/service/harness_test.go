package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dake/internal/domain"
	"github.com/alanyoungcy/dake/internal/ledger/memory"
	"github.com/alanyoungcy/dake/internal/oracle"
)

var (
	program   = common.HexToAddress("0x00000000000000000000000000000000000da4e0")
	authority = common.HexToAddress("0x000000000000000000000000000000000000a0a0")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol     = common.HexToAddress("0x00000000000000000000000000000000000ca401")
	dave      = common.HexToAddress("0x000000000000000000000000000000000000da7e")
)

type harness struct {
	ledger  *memory.Ledger
	oracle  *oracle.Local
	markets *MarketService
	settle  *SettlementService
}

func newHarness(t *testing.T, cfg MarketConfig, fx Effects) *harness {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	o, err := oracle.New(key, oracle.NewMemoryStore(), logger)
	require.NoError(t, err)
	l := memory.New(program)

	h := &harness{
		ledger:  l,
		oracle:  o,
		markets: NewMarketService(l, o, program, cfg, fx, logger),
		settle:  NewSettlementService(l, o, program, fx, logger),
	}
	for _, who := range []common.Address{authority, alice, bob, carol, dave} {
		h.fund(t, who, 1_000_000_000_000)
	}
	return h
}

func (h *harness) fund(t *testing.T, who common.Address, amount uint64) {
	t.Helper()
	require.NoError(t, h.ledger.Fund(context.Background(), who, amount))
}

func (h *harness) createMarket(t *testing.T, id uint64, seed uint64, acc domain.Accounting) domain.Market {
	t.Helper()
	m, err := h.markets.CreateMarket(context.Background(), authority, CreateMarketParams{
		MarketID:       id,
		Question:       "Will it rain tomorrow?",
		ResolutionTime: time.Now().Add(24 * time.Hour).Unix(),
		SeedLiquidity:  &seed,
		Accounting:     acc,
	})
	require.NoError(t, err)
	return m
}

func (h *harness) seal(t *testing.T, side uint8) []byte {
	t.Helper()
	ct, err := oracle.SealInput(h.oracle.PublicKey(), uint256.NewInt(uint64(side)))
	require.NoError(t, err)
	return ct
}

func (h *harness) placeBet(ctx context.Context, t *testing.T, who, market common.Address, side uint8, amount uint64) (BetResult, error) {
	t.Helper()
	return h.markets.PlaceBet(ctx, who, market, BetParams{
		EncryptedSide:   h.seal(t, side),
		Amount:          amount,
		SideForPool:     side,
		GrantSelfAccess: true,
	})
}

func (h *harness) mustBet(t *testing.T, who, market common.Address, side uint8, amount uint64) domain.Position {
	t.Helper()
	res, err := h.placeBet(context.Background(), t, who, market, side, amount)
	require.NoError(t, err)
	return res.Position
}

// checkAndDecrypt runs check-winner for the owner and returns the owner's
// attested decryption of the result.
func (h *harness) checkAndDecrypt(t *testing.T, pos domain.Position) domain.Decryption {
	t.Helper()
	ctx := context.Background()
	checked, err := h.settle.CheckWinner(ctx, pos.Owner, pos.Address, true)
	require.NoError(t, err)
	d, err := h.oracle.Decrypt(ctx, pos.Owner, checked.IsWinnerHandle)
	require.NoError(t, err)
	return d
}

func (h *harness) claim(t *testing.T, pos domain.Position) (ClaimResult, error) {
	t.Helper()
	d := h.checkAndDecrypt(t, pos)
	return h.settle.ClaimWinnings(context.Background(), pos.Owner, pos.Address, d)
}

func (h *harness) mustDecrypt(t *testing.T, who common.Address, handle domain.Handle) domain.Decryption {
	t.Helper()
	d, err := h.oracle.Decrypt(context.Background(), who, handle)
	require.NoError(t, err)
	return d
}

func (h *harness) balance(t *testing.T, who common.Address) uint64 {
	t.Helper()
	bal, err := h.ledger.BalanceOf(context.Background(), who)
	require.NoError(t, err)
	return bal
}

func bettor(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0x10000 + i)))
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, _ string, payload []byte) error {
	var ev domain.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Type
	}
	return out
}

type failingAudit struct{}

func (failingAudit) Log(context.Context, string, map[string]any) error {
	return errors.New("audit down")
}

func (failingAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, errors.New("audit down")
}
