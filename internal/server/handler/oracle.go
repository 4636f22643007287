package handler

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/dake/internal/domain"
)

// Decrypter is the attested-decryption surface of the oracle.
type Decrypter interface {
	Decrypt(ctx context.Context, requester common.Address, h domain.Handle) (domain.Decryption, error)
	Address() common.Address
	PublicKey() *ecdsa.PublicKey
}

// OracleHandler serves the oracle endpoints.
type OracleHandler struct {
	oracle Decrypter
	logger *slog.Logger
}

// NewOracleHandler creates an OracleHandler.
func NewOracleHandler(oracle Decrypter, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{oracle: oracle, logger: logger.With(slog.String("handler", "oracle"))}
}

// PublicKey handles GET /api/oracle/key. Clients seal bet sides to this key.
func (h *OracleHandler) PublicKey(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"address":    h.oracle.Address().Hex(),
		"public_key": "0x" + hex.EncodeToString(ethcrypto.FromECDSAPub(h.oracle.PublicKey())),
	})
}

type decryptRequest struct {
	Handle string `json:"handle" validate:"required"`
}

type decryptResponse struct {
	Handle    string `json:"handle"`
	Plaintext string `json:"plaintext"`
	Proof     string `json:"proof"`
}

// Decrypt handles POST /api/oracle/decrypt. The signed caller must hold
// access to the handle; the proof is bound to the caller.
func (h *OracleHandler) Decrypt(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req decryptRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	handle, err := domain.ParseHandle(req.Handle)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid handle")
		return
	}
	d, err := h.oracle.Decrypt(r.Context(), who, handle)
	if err != nil {
		writeServiceError(w, r, h.logger, "decrypt", err)
		return
	}
	writeJSON(w, http.StatusOK, decryptResponse{
		Handle:    d.Handle.String(),
		Plaintext: "0x" + hex.EncodeToString(d.Plaintext),
		Proof:     "0x" + hex.EncodeToString(d.Proof),
	})
}
