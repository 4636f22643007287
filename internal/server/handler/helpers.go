package handler

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/dake/internal/domain"
	"github.com/alanyoungcy/dake/internal/server/middleware"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

var validate = validator.New()

// writeJSON marshals v and writes it with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

var (
	authErrors = []error{
		domain.ErrUnauthorized,
		domain.ErrNotOwner,
		domain.ErrAccessDenied,
		domain.ErrTransferDenied,
	}
	conflictErrors = []error{
		domain.ErrConflict,
		domain.ErrAlreadyExists,
		domain.ErrMarketExists,
		domain.ErrPositionExists,
		domain.ErrLockHeld,
	}
	ruleErrors = []error{
		domain.ErrMarketNotOpen,
		domain.ErrMarketStillOpen,
		domain.ErrMarketNotResolved,
		domain.ErrMarketAlreadyResolved,
		domain.ErrInvalidBetAmount,
		domain.ErrInvalidSide,
		domain.ErrNotChecked,
		domain.ErrAlreadyClaimed,
		domain.ErrNotWinner,
		domain.ErrNoFunds,
		domain.ErrQuestionTooLong,
		domain.ErrResolutionTimeNotReached,
		domain.ErrInvalidAccounting,
		domain.ErrInsufficientFunds,
		domain.ErrProofInvalid,
	}
)

// statusFor maps a service error to its HTTP status and the message shown
// to the client.
func statusFor(err error) (int, string) {
	switch {
	case isAny(err, authErrors):
		return http.StatusForbidden, rootMessage(err, authErrors)
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.ErrNotFound.Error()
	case isAny(err, conflictErrors):
		return http.StatusConflict, rootMessage(err, conflictErrors)
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, domain.ErrRateLimited.Error()
	case isAny(err, ruleErrors):
		return http.StatusUnprocessableEntity, rootMessage(err, ruleErrors)
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// rootMessage returns the text of the first sentinel err wraps, so internal
// wrapping context is not exposed.
func rootMessage(err error, targets []error) string {
	for _, t := range targets {
		if errors.Is(err, t) {
			return t.Error()
		}
	}
	return err.Error()
}

// writeServiceError logs unexpected failures and writes the mapped status.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
	}
	writeError(w, status, msg)
}

// decodeBody decodes a JSON body into dst and validates its struct tags. An
// empty body is treated as {}.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("field %s failed %q validation", strings.ToLower(verrs[0].Field()), verrs[0].Tag())
		}
		return err
	}
	return nil
}

// caller returns the address verified by the signing middleware.
func caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	c, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "signed request required")
	}
	return c, ok
}

// pathAddress parses the named path value as an address.
func pathAddress(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	raw := r.PathValue(name)
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s address", name))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// decodeHex accepts hex with or without a 0x prefix.
func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
}

// parseListOpts reads limit (default 50, max 500), offset and status.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: 50}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, fmt.Errorf("invalid limit %q", v)
		}
		opts.Limit = min(n, 500)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("invalid offset %q", v)
		}
		opts.Offset = n
	}
	if v := q.Get("status"); v != "" {
		s := domain.MarketStatus(v)
		switch s {
		case domain.MarketStatusOpen, domain.MarketStatusClosed, domain.MarketStatusResolvedYes, domain.MarketStatusResolvedNo:
			opts.Status = s
		default:
			return opts, fmt.Errorf("invalid status %q", v)
		}
	}
	return opts, nil
}
