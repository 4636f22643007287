package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
)

const (
	// reconnectDelay is the base delay before reconnecting the event feed.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 60 * time.Second
)

// Subscription selects the frames a Watch receives. Empty fields match
// everything.
type Subscription struct {
	Channels []string
	Markets  []common.Address
}

// NotificationHandler is called for every frame received by Watch.
type NotificationHandler func(Notification)

// Watch streams events from the server's websocket feed until ctx is
// cancelled. It reconnects with backoff on disconnect and restores the
// subscription on every connection.
func (c *Client) Watch(ctx context.Context, sub Subscription, fn NotificationHandler) error {
	wsURL, err := c.wsURL()
	if err != nil {
		return err
	}

	delay := reconnectDelay
	for {
		connected, err := c.watchOnce(ctx, wsURL, sub, fn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = reconnectDelay
		}
		c.logger.Warn("event feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// watchOnce runs one connection. connected reports whether the handshake and
// subscription succeeded.
func (c *Client) watchOnce(ctx context.Context, wsURL string, sub Subscription, fn NotificationHandler) (connected bool, err error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("client: dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	if len(sub.Channels) > 0 || len(sub.Markets) > 0 {
		markets := make([]string, 0, len(sub.Markets))
		for _, m := range sub.Markets {
			markets = append(markets, m.Hex())
		}
		cmd := map[string]any{
			"action":   "subscribe",
			"channels": sub.Channels,
			"markets":  markets,
		}
		if err := conn.WriteJSON(cmd); err != nil {
			return false, fmt.Errorf("client: subscribe: %w", err)
		}
	}
	c.logger.Info("event feed connected", slog.String("url", wsURL))

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("client: read: %w", err)
		}
		var n Notification
		if err := json.Unmarshal(data, &n); err != nil {
			c.logger.Debug("skipping malformed frame", slog.String("error", err.Error()))
			continue
		}
		fn(n)
	}
}

// wsURL maps the API root to its websocket endpoint.
func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("client: parse base url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
