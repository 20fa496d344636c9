package engine

import "errors"

// Engine error kinds. Every fallible step returns on first error; no
// partial state is ever persisted. Callers dispatch with errors.Is.
var (
	ErrUnauthorizedAccess    = errors.New("unauthorized access")
	ErrInvalidAssetType      = errors.New("invalid asset type")
	ErrInvalidPositionSize   = errors.New("invalid position size")
	ErrInvalidLeverage       = errors.New("invalid leverage")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrPositionAlreadyExists = errors.New("position already exists")
	ErrNoPositionExists      = errors.New("no position exists to close")
	ErrInvalidOracleAccount  = errors.New("invalid oracle account")
	ErrInvalidOraclePrice    = errors.New("invalid oracle price")
	ErrMathOverflow          = errors.New("math overflow")
)

// Boundary errors surfaced by the storage collaborator.
var (
	ErrAlreadyInitialized = errors.New("engine already initialized")
	ErrNotInitialized     = errors.New("engine not initialized")
	ErrAccountExists      = errors.New("user account already exists")
	ErrAccountNotFound    = errors.New("user account not found")
	ErrMarketNotFound     = errors.New("market not found")
)
