// Package client is a Go client for the dake HTTP API. Mutating calls are
// signed with the caller's key; bet sides are sealed to the oracle key before
// they leave the process.
package client

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/dake/internal/crypto"
	"github.com/alanyoungcy/dake/internal/domain"
	"github.com/alanyoungcy/dake/internal/oracle"
)

// Client talks to one dake server as one signer.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	logger     *slog.Logger

	keyMu     sync.Mutex
	oracleKey *ecdsa.PublicKey
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used by Watch.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client. baseURL is the API root, e.g. "http://localhost:8000".
// signer may be nil for read-only use.
func New(baseURL string, signer *crypto.Signer, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer: signer,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With(slog.String("component", "dake_client"))
	return c
}

// Address is the signer's address.
func (c *Client) Address() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// ListMarkets lists markets, optionally filtered by status.
func (c *Client) ListMarkets(ctx context.Context, status string, limit, offset int) ([]Market, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/markets"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Markets []Market `json:"markets"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("client: list markets: %w", err)
	}
	return out.Markets, nil
}

// Market fetches one market with its vault balance.
func (c *Client) Market(ctx context.Context, addr common.Address) (Market, error) {
	var m Market
	if err := c.do(ctx, http.MethodGet, "/api/markets/"+addr.Hex(), nil, &m); err != nil {
		return Market{}, fmt.Errorf("client: get market %s: %w", addr.Hex(), err)
	}
	return m, nil
}

// Positions lists the positions of a market.
func (c *Client) Positions(ctx context.Context, market common.Address) ([]Position, error) {
	var out struct {
		Positions []Position `json:"positions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/markets/"+market.Hex()+"/positions", nil, &out); err != nil {
		return nil, fmt.Errorf("client: list positions: %w", err)
	}
	return out.Positions, nil
}

// Position fetches one position.
func (c *Client) Position(ctx context.Context, addr common.Address) (Position, error) {
	var p Position
	if err := c.do(ctx, http.MethodGet, "/api/positions/"+addr.Hex(), nil, &p); err != nil {
		return Position{}, fmt.Errorf("client: get position %s: %w", addr.Hex(), err)
	}
	return p, nil
}

// OracleKey returns the oracle public key bet sides are sealed to. The key is
// fetched once and cached.
func (c *Client) OracleKey(ctx context.Context) (*ecdsa.PublicKey, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.oracleKey != nil {
		return c.oracleKey, nil
	}

	var out struct {
		Address   string `json:"address"`
		PublicKey string `json:"public_key"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/oracle/key", nil, &out); err != nil {
		return nil, fmt.Errorf("client: oracle key: %w", err)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(out.PublicKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("client: decode oracle key: %w", err)
	}
	pub, err := ethcrypto.UnmarshalPubkey(raw)
	if err != nil {
		return nil, fmt.Errorf("client: parse oracle key: %w", err)
	}
	if got := ethcrypto.PubkeyToAddress(*pub); got != common.HexToAddress(out.Address) {
		return nil, fmt.Errorf("client: oracle key does not match address %s", out.Address)
	}
	c.oracleKey = pub
	return pub, nil
}

// --------------------------------------------------------------------------
// Market lifecycle
// --------------------------------------------------------------------------

// CreateMarket creates a market with the signer as authority.
func (c *Client) CreateMarket(ctx context.Context, req CreateMarketRequest) (Market, error) {
	var m Market
	if err := c.do(ctx, http.MethodPost, "/api/markets", req, &m); err != nil {
		return Market{}, fmt.Errorf("client: create market: %w", err)
	}
	return m, nil
}

// CloseMarket stops betting on a market.
func (c *Client) CloseMarket(ctx context.Context, market common.Address) (Market, error) {
	var m Market
	if err := c.do(ctx, http.MethodPost, "/api/markets/"+market.Hex()+"/close", struct{}{}, &m); err != nil {
		return Market{}, fmt.Errorf("client: close market: %w", err)
	}
	return m, nil
}

// ResolveMarket sets the outcome of a market.
func (c *Client) ResolveMarket(ctx context.Context, market common.Address, outcome bool) (Market, error) {
	body := map[string]bool{"outcome": outcome}
	var m Market
	if err := c.do(ctx, http.MethodPost, "/api/markets/"+market.Hex()+"/resolve", body, &m); err != nil {
		return Market{}, fmt.Errorf("client: resolve market: %w", err)
	}
	return m, nil
}

// BetOptions tune PlaceBet.
type BetOptions struct {
	// GrantSelfAccess lets the bettor decrypt their own side later.
	GrantSelfAccess bool
}

// PlaceBet seals side to the oracle key and places a bet of amount.
func (c *Client) PlaceBet(ctx context.Context, market common.Address, side uint8, amount uint64, opts BetOptions) (BetReceipt, error) {
	if side != domain.SideYes && side != domain.SideNo {
		return BetReceipt{}, fmt.Errorf("client: place bet: %w", domain.ErrInvalidSide)
	}
	pub, err := c.OracleKey(ctx)
	if err != nil {
		return BetReceipt{}, err
	}
	sealed, err := oracle.SealInput(pub, uint256.NewInt(uint64(side)))
	if err != nil {
		return BetReceipt{}, fmt.Errorf("client: seal side: %w", err)
	}

	body := map[string]any{
		"encrypted_side":    "0x" + hex.EncodeToString(sealed),
		"amount":            amount,
		"side_for_pool":     side,
		"grant_self_access": opts.GrantSelfAccess,
	}
	var out BetReceipt
	if err := c.do(ctx, http.MethodPost, "/api/markets/"+market.Hex()+"/bets", body, &out); err != nil {
		return BetReceipt{}, fmt.Errorf("client: place bet: %w", err)
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Settlement
// --------------------------------------------------------------------------

// CheckWinner computes the encrypted is-winner flag of a position.
func (c *Client) CheckWinner(ctx context.Context, position common.Address, grantOwnerAccess bool) (Position, error) {
	body := map[string]bool{"grant_owner_access": grantOwnerAccess}
	var p Position
	if err := c.do(ctx, http.MethodPost, "/api/positions/"+position.Hex()+"/check", body, &p); err != nil {
		return Position{}, fmt.Errorf("client: check winner: %w", err)
	}
	return p, nil
}

// GrantDecryptAccess grants recipient, or the owner when nil, access to the
// position's is-winner handle.
func (c *Client) GrantDecryptAccess(ctx context.Context, position common.Address, recipient *common.Address) error {
	body := map[string]string{}
	if recipient != nil {
		body["recipient"] = recipient.Hex()
	}
	if err := c.do(ctx, http.MethodPost, "/api/positions/"+position.Hex()+"/grant", body, nil); err != nil {
		return fmt.Errorf("client: grant decrypt access: %w", err)
	}
	return nil
}

// Decrypt requests an attested decryption of h for the signer.
func (c *Client) Decrypt(ctx context.Context, h domain.Handle) (domain.Decryption, error) {
	var out struct {
		Handle    string `json:"handle"`
		Plaintext string `json:"plaintext"`
		Proof     string `json:"proof"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/oracle/decrypt", map[string]string{"handle": h.String()}, &out); err != nil {
		return domain.Decryption{}, fmt.Errorf("client: decrypt: %w", err)
	}
	plaintext, err := hex.DecodeString(strings.TrimPrefix(out.Plaintext, "0x"))
	if err != nil {
		return domain.Decryption{}, fmt.Errorf("client: decode plaintext: %w", err)
	}
	proof, err := hex.DecodeString(strings.TrimPrefix(out.Proof, "0x"))
	if err != nil {
		return domain.Decryption{}, fmt.Errorf("client: decode proof: %w", err)
	}
	return domain.Decryption{Handle: h, Plaintext: plaintext, Proof: proof}, nil
}

// Claim decrypts the position's is-winner flag and claims the payout. The
// position must have been checked and the signer must hold access to the
// flag.
func (c *Client) Claim(ctx context.Context, position common.Address) (ClaimReceipt, error) {
	p, err := c.Position(ctx, position)
	if err != nil {
		return ClaimReceipt{}, err
	}
	h, err := p.WinnerHandle()
	if err != nil {
		return ClaimReceipt{}, err
	}
	d, err := c.Decrypt(ctx, h)
	if err != nil {
		return ClaimReceipt{}, err
	}
	if !oracle.EqualPlaintext(d.Plaintext, uint256.NewInt(1)) {
		return ClaimReceipt{}, fmt.Errorf("client: claim %s: %w", position.Hex(), domain.ErrNotWinner)
	}

	body := map[string]string{
		"handle":    d.Handle.String(),
		"plaintext": "0x" + hex.EncodeToString(d.Plaintext),
		"proof":     "0x" + hex.EncodeToString(d.Proof),
	}
	var out ClaimReceipt
	if err := c.do(ctx, http.MethodPost, "/api/positions/"+position.Hex()+"/claim", body, &out); err != nil {
		return ClaimReceipt{}, fmt.Errorf("client: claim: %w", err)
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// do sends a request and decodes a JSON response into out when non-nil. POST
// requests are signed.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if method != http.MethodGet {
		if c.signer == nil {
			return errors.New("signed request without a signer")
		}
		// The server verifies the path without its query string.
		headers, err := c.signer.RequestHeaders(method, req.URL.Path, raw)
		if err != nil {
			return err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return err
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := string(body)
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		msg = apiErr.Error
	}

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", domain.ErrConflict, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}
