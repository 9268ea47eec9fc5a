package trade

import "errors"

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrUserExists           = errors.New("user exists")
	ErrUnknownTicker        = errors.New("unknown ticker")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrInsufficientQuantity = errors.New("insufficient quantity")

	// ErrCorruptRecord means a stored row could not be parsed.
	ErrCorruptRecord = errors.New("corrupt record")
)
