package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dake/internal/domain"
	"github.com/alanyoungcy/dake/internal/service"
)

// MarketService is what the market handler needs from the service layer.
type MarketService interface {
	CreateMarket(ctx context.Context, caller common.Address, p service.CreateMarketParams) (domain.Market, error)
	CloseMarket(ctx context.Context, caller, market common.Address) (domain.Market, error)
	ResolveMarket(ctx context.Context, caller, market common.Address, outcome bool) (domain.Market, error)
	PlaceBet(ctx context.Context, caller, market common.Address, p service.BetParams) (service.BetResult, error)
	GetMarket(ctx context.Context, addr common.Address) (domain.Market, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	ListPositions(ctx context.Context, market common.Address) ([]domain.Position, error)
	VaultBalance(ctx context.Context, market common.Address) (uint64, error)
}

// MarketHandler serves the market endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger.With(slog.String("handler", "markets"))}
}

type listMarketsResponse struct {
	Markets []marketView `json:"markets"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListMarkets handles GET /api/markets?status=open&limit=50&offset=0.
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	markets, err := h.markets.ListMarkets(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	views := make([]marketView, 0, len(markets))
	for _, m := range markets {
		views = append(views, toMarketView(m))
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: views, Limit: opts.Limit, Offset: opts.Offset})
}

// GetMarket handles GET /api/markets/{address}.
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	m, err := h.markets.GetMarket(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	view := toMarketView(m)
	if bal, err := h.markets.VaultBalance(r.Context(), addr); err == nil {
		view.VaultBalance = &bal
	}
	writeJSON(w, http.StatusOK, view)
}

// ListPositions handles GET /api/markets/{address}/positions.
func (h *MarketHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	if _, err := h.markets.GetMarket(r.Context(), addr); err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	positions, err := h.markets.ListPositions(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": toPositionViews(positions)})
}

type createMarketRequest struct {
	MarketID       uint64  `json:"market_id"`
	Question       string  `json:"question"`
	ResolutionTime int64   `json:"resolution_time"`
	SeedLiquidity  *uint64 `json:"seed_liquidity"`
	Accounting     string  `json:"accounting" validate:"omitempty,oneof=locked pool"`
}

// CreateMarket handles POST /api/markets. The caller becomes the authority.
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.markets.CreateMarket(r.Context(), who, service.CreateMarketParams{
		MarketID:       req.MarketID,
		Question:       req.Question,
		ResolutionTime: req.ResolutionTime,
		SeedLiquidity:  req.SeedLiquidity,
		Accounting:     domain.Accounting(req.Accounting),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMarketView(m))
}

// CloseMarket handles POST /api/markets/{address}/close.
func (h *MarketHandler) CloseMarket(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	m, err := h.markets.CloseMarket(r.Context(), who, addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "close market", err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketView(m))
}

type resolveRequest struct {
	Outcome *bool `json:"outcome" validate:"required"`
}

// ResolveMarket handles POST /api/markets/{address}/resolve.
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.markets.ResolveMarket(r.Context(), who, addr, *req.Outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve market", err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketView(m))
}

type placeBetRequest struct {
	EncryptedSide   string `json:"encrypted_side" validate:"required"`
	Amount          uint64 `json:"amount"`
	SideForPool     uint8  `json:"side_for_pool"`
	GrantSelfAccess bool   `json:"grant_self_access"`
}

type placeBetResponse struct {
	Position   positionView `json:"position"`
	Market     marketView   `json:"market"`
	Multiplier string       `json:"multiplier"`
}

// PlaceBet handles POST /api/markets/{address}/bets. encrypted_side is the
// hex ciphertext sealed to the oracle key.
func (h *MarketHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	var req placeBetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sealed, err := decodeHex(req.EncryptedSide)
	if err != nil {
		writeError(w, http.StatusBadRequest, "encrypted_side must be hex")
		return
	}
	res, err := h.markets.PlaceBet(r.Context(), who, addr, service.BetParams{
		EncryptedSide:   sealed,
		Amount:          req.Amount,
		SideForPool:     req.SideForPool,
		GrantSelfAccess: req.GrantSelfAccess,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, placeBetResponse{
		Position:   toPositionView(res.Position),
		Market:     toMarketView(res.Market),
		Multiplier: res.Multiplier,
	})
}
