package domain

import "errors"

// Market and settlement errors. Every failed operation returns exactly one of
// these (possibly wrapped) and leaves no state behind.
var (
	ErrMarketNotOpen            = errors.New("market is not open for betting")
	ErrMarketStillOpen          = errors.New("market is still open")
	ErrMarketNotResolved        = errors.New("market is not resolved yet")
	ErrMarketAlreadyResolved    = errors.New("market is already resolved")
	ErrInvalidBetAmount         = errors.New("bet amount must be greater than zero")
	ErrInvalidSide              = errors.New("invalid side: must be 0 (NO) or 1 (YES)")
	ErrNotOwner                 = errors.New("not the position owner")
	ErrNotChecked               = errors.New("position not checked yet: call check_winner first")
	ErrAlreadyClaimed           = errors.New("position already claimed")
	ErrNotWinner                = errors.New("not a winner: cannot claim")
	ErrUnauthorized             = errors.New("unauthorized: not the market authority")
	ErrNoFunds                  = errors.New("no funds in vault")
	ErrQuestionTooLong          = errors.New("question too long: max 256 bytes")
	ErrResolutionTimeNotReached = errors.New("resolution time not reached yet")
	ErrInvalidAccounting        = errors.New("invalid accounting: must be locked or pool")
)

// Substrate and collaborator errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrMarketExists      = errors.New("market already exists")
	ErrPositionExists    = errors.New("position already exists for this bettor")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrTransferDenied    = errors.New("transfer not authorized by signer")
	ErrConflict          = errors.New("write conflict: retry the operation")
	ErrProofInvalid      = errors.New("decryption proof invalid")
	ErrAccessDenied      = errors.New("access to encrypted value denied")
	ErrLockHeld          = errors.New("lock already held")
	ErrRateLimited       = errors.New("rate limited")
)
