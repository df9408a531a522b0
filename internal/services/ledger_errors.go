package services

import "errors"

// Business-rule errors returned by the ledger operations. Handlers map
// these to HTTP statuses with errors.Is; everything else propagates as a
// store failure.
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountInactive    = errors.New("account not active")
	ErrInsufficientFunds  = errors.New("insufficient balance")
	ErrDailyLimitExceeded = errors.New("daily limit exceeded")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrItemNotFound       = errors.New("item not found")
	ErrTotalMismatch      = errors.New("cart total does not match current prices")
	ErrSaleNotFound       = errors.New("sale not found")
	ErrLineNotFound       = errors.New("sale line not found")
	ErrLineVoided         = errors.New("sale line already voided")
	ErrDuplicateRequest   = errors.New("duplicate request")
)
