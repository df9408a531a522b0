package models

import (
	"time"
)

// Sale and line statuses. A line reaches VOID only through the void
// operation and never leaves it. The parent sale flips to VOID once
// every one of its lines is void.
const (
	SaleStatusNormal = "NORMAL"
	SaleStatusVoid   = "VOID"

	LineStatusNormal = "NORMAL"
	LineStatusVoid   = "VOID"
)

// Sale is one checkout event. Total is always recomputed from the
// surviving lines, never patched in place.
type Sale struct {
	ID        string     `json:"id" db:"id"`
	RequestID string     `json:"request_id" db:"request_id"`
	AccountID string     `json:"account_id" db:"account_id"`
	Total     int64      `json:"total" db:"total"`
	Status    string     `json:"status" db:"status"`
	CashierID string     `json:"cashier_id" db:"cashier_id"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	Lines     []SaleLine `json:"lines,omitempty"`
}

// SaleLine snapshots the item name and unit price at sale time so that
// later catalog edits cannot rewrite a printed receipt.
type SaleLine struct {
	ID        string `json:"id" db:"id"`
	SaleID    string `json:"sale_id" db:"sale_id"`
	ItemName  string `json:"item_name" db:"item_name"`
	ItemPrice int64  `json:"item_price" db:"item_price"`
	Quantity  int    `json:"quantity" db:"quantity"`
	Status    string `json:"status" db:"status"`
}

// Subtotal is the line's contribution to the sale total. Void lines
// contribute nothing regardless of their retained quantity.
func (l SaleLine) Subtotal() int64 {
	if l.Status == LineStatusVoid {
		return 0
	}
	return l.ItemPrice * int64(l.Quantity)
}

// VoidRecord is the append-only audit entry for a void. Never updated
// or deleted.
type VoidRecord struct {
	ID        string    `json:"id" db:"id"`
	SaleID    string    `json:"sale_id" db:"sale_id"`
	LineID    string    `json:"line_id" db:"line_id"`
	Amount    int64     `json:"amount" db:"amount"`
	Quantity  int       `json:"quantity" db:"quantity"`
	Reason    string    `json:"reason" db:"reason"`
	ActorID   string    `json:"actor_id" db:"actor_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
