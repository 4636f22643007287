package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dake/internal/domain"
)

type chanBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

func newChanBus() *chanBus { return &chanBus{subs: make(map[string]chan []byte)} }

func (b *chanBus) ch(channel string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.subs[channel]
	if !ok {
		c = make(chan []byte, 16)
		b.subs[channel] = c
	}
	return c
}

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.ch(channel) <- payload
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.ch(channel), nil
}

func publish(t *testing.T, bus *chanBus, channel string, ev domain.Event) {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), channel, data))
}

func TestHubFiltersByMarket(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newChanBus()
	hub := NewHub(bus, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.clientCount() == 1 }, time.Second, 10*time.Millisecond)

	watched := common.HexToAddress("0xabc")
	other := common.HexToAddress("0xdef")
	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Markets: []string{watched.Hex()}}))
	require.Eventually(t, func() bool { return !hub.anyClientWants(domain.ChannelMarkets, strings.ToLower(other.Hex())) },
		time.Second, 10*time.Millisecond)

	publish(t, bus, domain.ChannelMarkets, domain.Event{Type: domain.EventMarketCreated, Market: other})
	publish(t, bus, domain.ChannelPositions, domain.Event{Type: domain.EventBetPlaced, Market: watched, Amount: 7})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got struct {
		Channel string       `json:"channel"`
		Event   domain.Event `json:"event"`
	}
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, domain.ChannelPositions, got.Channel)
	assert.Equal(t, domain.EventBetPlaced, got.Event.Type)
	assert.Equal(t, watched, got.Event.Market)
	assert.EqualValues(t, 7, got.Event.Amount)
}

func TestCheckOrigin(t *testing.T) {
	allow := checkOrigin([]string{"https://app.example"})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, allow(r))
	r.Header.Set("Origin", "https://app.example")
	assert.True(t, allow(r))
	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, allow(r))
}

func (h *Hub) anyClientWants(channel, market string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.wants(channel, market) {
			return true
		}
	}
	return false
}
