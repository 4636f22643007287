package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dake/internal/domain"
	"github.com/alanyoungcy/dake/internal/service"
)

// PositionReader reads positions.
type PositionReader interface {
	GetPosition(ctx context.Context, addr common.Address) (domain.Position, error)
}

// SettlementService is what the position handler needs for settlement.
type SettlementService interface {
	CheckWinner(ctx context.Context, caller, position common.Address, grantOwnerAccess bool) (domain.Position, error)
	GrantDecryptAccess(ctx context.Context, caller, position common.Address, recipient *common.Address) error
	ClaimWinnings(ctx context.Context, caller, position common.Address, d domain.Decryption) (service.ClaimResult, error)
}

// PositionHandler serves the position endpoints.
type PositionHandler struct {
	positions  PositionReader
	settlement SettlementService
	logger     *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionReader, settlement SettlementService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions:  positions,
		settlement: settlement,
		logger:     logger.With(slog.String("handler", "positions")),
	}
}

// GetPosition handles GET /api/positions/{address}.
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	p, err := h.positions.GetPosition(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionView(p))
}

type checkRequest struct {
	GrantOwnerAccess bool `json:"grant_owner_access"`
}

// CheckWinner handles POST /api/positions/{address}/check.
func (h *PositionHandler) CheckWinner(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	var req checkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.settlement.CheckWinner(r.Context(), who, addr, req.GrantOwnerAccess)
	if err != nil {
		writeServiceError(w, r, h.logger, "check winner", err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionView(p))
}

type grantRequest struct {
	Recipient string `json:"recipient" validate:"omitempty,eth_addr"`
}

// GrantDecryptAccess handles POST /api/positions/{address}/grant. The
// recipient defaults to the position owner.
func (h *PositionHandler) GrantDecryptAccess(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	var req grantRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var recipient *common.Address
	if req.Recipient != "" {
		a := common.HexToAddress(req.Recipient)
		recipient = &a
	}
	if err := h.settlement.GrantDecryptAccess(r.Context(), who, addr, recipient); err != nil {
		writeServiceError(w, r, h.logger, "grant decrypt access", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type claimRequest struct {
	Handle    string `json:"handle" validate:"required"`
	Plaintext string `json:"plaintext"`
	Proof     string `json:"proof" validate:"required"`
}

type claimResponse struct {
	Position   positionView `json:"position"`
	Payout     uint64       `json:"payout"`
	Profit     uint64       `json:"profit"`
	Multiplier string       `json:"multiplier"`
}

// ClaimWinnings handles POST /api/positions/{address}/claim. The body carries
// the attested decryption of the position's is-winner handle; plaintext and
// proof are hex.
func (h *PositionHandler) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	handle, err := domain.ParseHandle(req.Handle)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid handle")
		return
	}
	plaintext, err := decodeHex(req.Plaintext)
	if err != nil {
		writeError(w, http.StatusBadRequest, "plaintext must be hex")
		return
	}
	proof, err := decodeHex(req.Proof)
	if err != nil {
		writeError(w, http.StatusBadRequest, "proof must be hex")
		return
	}

	res, err := h.settlement.ClaimWinnings(r.Context(), who, addr, domain.Decryption{
		Handle:    handle,
		Plaintext: plaintext,
		Proof:     proof,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "claim winnings", err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{
		Position:   toPositionView(res.Position),
		Payout:     res.Payout,
		Profit:     res.Profit,
		Multiplier: res.Multiplier,
	})
}
