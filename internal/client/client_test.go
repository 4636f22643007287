package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dake/internal/crypto"
	"github.com/alanyoungcy/dake/internal/domain"
	"github.com/alanyoungcy/dake/internal/ledger/memory"
	"github.com/alanyoungcy/dake/internal/oracle"
	"github.com/alanyoungcy/dake/internal/server"
	"github.com/alanyoungcy/dake/internal/server/handler"
	"github.com/alanyoungcy/dake/internal/server/ws"
	"github.com/alanyoungcy/dake/internal/service"
)

const testChainID = 31337

var program = common.HexToAddress("0x00000000000000000000000000000000000da4e0")

type chanBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

func (b *chanBus) ch(channel string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.subs[channel]
	if !ok {
		c = make(chan []byte, 64)
		b.subs[channel] = c
	}
	return c
}

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	select {
	case b.ch(channel) <- payload:
	default:
	}
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.ch(channel), nil
}

type testEnv struct {
	url    string
	ledger *memory.Ledger
	bus    *chanBus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	o, err := oracle.New(key, nil, logger)
	require.NoError(t, err)
	l := memory.New(program)
	bus := &chanBus{subs: make(map[string]chan []byte)}

	fx := service.Effects{Bus: bus}
	markets := service.NewMarketService(l, o, program, service.MarketConfig{}, fx, logger)
	settle := service.NewSettlementService(l, o, program, fx, logger)

	hub := ws.NewHub(bus, nil, logger)
	go func() { _ = hub.Run(ctx) }()

	h := server.NewHandler(server.Config{}, server.Handlers{
		Health:    handler.NewHealthHandler(nil),
		Markets:   handler.NewMarketHandler(markets, logger),
		Positions: handler.NewPositionHandler(markets, settle, logger),
		Oracle:    handler.NewOracleHandler(o, logger),
	}, server.Deps{Verifier: crypto.NewVerifier(testChainID), Hub: hub}, logger)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testEnv{url: srv.URL, ledger: l, bus: bus}
}

func (e *testEnv) newClient(t *testing.T, funds uint64) *Client {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	s := crypto.NewSignerFromKey(key, testChainID)
	require.NoError(t, e.ledger.Fund(context.Background(), s.Address(), funds))
	return New(e.url, s, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func (e *testEnv) balance(t *testing.T, c *Client) uint64 {
	t.Helper()
	b, err := e.ledger.BalanceOf(context.Background(), c.Address())
	require.NoError(t, err)
	return b
}

func TestLockedMarketLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	authority := env.newClient(t, 10_000)
	alice := env.newClient(t, 10_000)
	bob := env.newClient(t, 10_000)

	seed := uint64(500)
	m, err := authority.CreateMarket(ctx, CreateMarketRequest{
		MarketID:       7,
		Question:       "Will the bridge reopen by June?",
		ResolutionTime: time.Now().Add(time.Hour).Unix(),
		SeedLiquidity:  &seed,
		Accounting:     "locked",
	})
	require.NoError(t, err)
	assert.Equal(t, "open", m.Status)
	assert.Equal(t, authority.Address(), m.Authority)

	aliceBet, err := alice.PlaceBet(ctx, m.Address, domain.SideYes, 100, BetOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint64(183), aliceBet.Position.LockedPayout)
	assert.NotEmpty(t, aliceBet.Multiplier)

	bobBet, err := bob.PlaceBet(ctx, m.Address, domain.SideNo, 300, BetOptions{GrantSelfAccess: true})
	require.NoError(t, err)
	assert.Equal(t, uint64(525), bobBet.Position.LockedPayout)

	positions, err := alice.Positions(ctx, m.Address)
	require.NoError(t, err)
	assert.Len(t, positions, 2)

	_, err = alice.ResolveMarket(ctx, m.Address, true)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = authority.CloseMarket(ctx, m.Address)
	require.NoError(t, err)
	resolved, err := authority.ResolveMarket(ctx, m.Address, true)
	require.NoError(t, err)
	assert.Equal(t, "resolved_yes", resolved.Status)

	_, err = alice.Claim(ctx, aliceBet.Position.Address)
	require.ErrorIs(t, err, domain.ErrNotChecked)

	_, err = alice.CheckWinner(ctx, aliceBet.Position.Address, true)
	require.NoError(t, err)
	receipt, err := alice.Claim(ctx, aliceBet.Position.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(183), receipt.Payout)
	assert.Equal(t, uint64(83), receipt.Profit)
	assert.True(t, receipt.Position.Claimed)
	assert.Equal(t, uint64(10_000-100+183), env.balance(t, alice))

	_, err = bob.CheckWinner(ctx, bobBet.Position.Address, true)
	require.NoError(t, err)
	_, err = bob.Claim(ctx, bobBet.Position.Address)
	require.ErrorIs(t, err, domain.ErrNotWinner)

	got, err := bob.Market(ctx, m.Address)
	require.NoError(t, err)
	require.NotNil(t, got.VaultBalance)
	assert.Equal(t, uint64(1400-183), *got.VaultBalance)

	open, err := bob.ListMarkets(ctx, "open", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestDecryptRequiresAccess(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	authority := env.newClient(t, 10_000)
	alice := env.newClient(t, 10_000)
	bob := env.newClient(t, 10_000)

	seed := uint64(0)
	m, err := authority.CreateMarket(ctx, CreateMarketRequest{MarketID: 1, Question: "q", SeedLiquidity: &seed})
	require.NoError(t, err)
	bet, err := alice.PlaceBet(ctx, m.Address, domain.SideNo, 10, BetOptions{GrantSelfAccess: true})
	require.NoError(t, err)

	h, err := domain.ParseHandle(bet.Position.EncryptedSideHandle)
	require.NoError(t, err)

	d, err := alice.Decrypt(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, h, d.Handle)
	assert.NotEmpty(t, d.Proof)

	_, err = bob.Decrypt(ctx, h)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestReadOnlyClientCannotSign(t *testing.T) {
	env := newTestEnv(t)
	c := New(env.url, nil)

	_, err := c.ListMarkets(context.Background(), "", 0, 0)
	require.NoError(t, err)

	_, err = c.CreateMarket(context.Background(), CreateMarketRequest{MarketID: 1})
	require.Error(t, err)

	_, err = c.Market(context.Background(), common.HexToAddress("0x01"))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWatchDeliversEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := New(env.url, nil, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	market := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	got := make(chan Notification, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, Subscription{Channels: []string{domain.ChannelMarkets}}, func(n Notification) {
			select {
			case got <- n:
			default:
			}
		})
	}()

	frame, err := json.Marshal(domain.Event{Type: domain.EventMarketResolved, Market: market, At: time.Now().UTC()})
	require.NoError(t, err)

	// The client may connect after the first publishes; keep publishing until
	// a frame arrives.
	var n Notification
	require.Eventually(t, func() bool {
		_ = env.bus.Publish(ctx, domain.ChannelMarkets, frame)
		select {
		case n = <-got:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, domain.ChannelMarkets, n.Channel)
	assert.Equal(t, domain.EventMarketResolved, n.Event.Type)
	assert.Equal(t, market, n.Event.Market)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestCheckHTTPStatus(t *testing.T) {
	assert.NoError(t, checkHTTPStatus(http.StatusNoContent, nil))
	assert.ErrorIs(t, checkHTTPStatus(http.StatusNotFound, []byte(`{"error":"not found"}`)), domain.ErrNotFound)
	assert.ErrorIs(t, checkHTTPStatus(http.StatusForbidden, nil), domain.ErrUnauthorized)
	assert.ErrorIs(t, checkHTTPStatus(http.StatusConflict, nil), domain.ErrConflict)
	assert.ErrorIs(t, checkHTTPStatus(http.StatusTooManyRequests, nil), domain.ErrRateLimited)

	err := checkHTTPStatus(http.StatusUnprocessableEntity, []byte(`{"error":"position already claimed"}`))
	assert.EqualError(t, err, "HTTP 422: position already claimed")
}

func TestWSURL(t *testing.T) {
	u, err := New("https://api.example.com/", nil).wsURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/ws", u)

	u, err = New("http://localhost:8000", nil).wsURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8000/ws", u)
}
