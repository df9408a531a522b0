package models

import (
	"time"
)

// Account is a student's prepaid balance. Amounts are in centavos.
// The balance is mutated only through the ledger operations (checkout,
// void, top-up), never written directly by handlers.
type Account struct {
	ID          string     `json:"id" db:"id"`
	AccountID   string     `json:"account_id" db:"account_id"`
	UserID      int        `json:"user_id" db:"user_id"`
	AccountName string     `json:"account_name" db:"account_name"`
	Balance     int64      `json:"balance" db:"balance"`
	DailyLimit  *int64     `json:"daily_limit,omitempty" db:"daily_limit"`
	SpentToday  int64      `json:"spent_today" db:"spent_today"`
	LastReset   time.Time  `json:"last_reset" db:"last_reset"`
	Status      string     `json:"status" db:"status"` // ACTIVE, SUSPENDED, CLOSED
	Version     int        `json:"version" db:"version"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

const (
	AccountStatusActive    = "ACTIVE"
	AccountStatusSuspended = "SUSPENDED"
	AccountStatusClosed    = "CLOSED"
)

// TopUp is a credit applied to an account from the parent portal or the
// admin desk. RequestID is the client-generated idempotency token.
type TopUp struct {
	ID        string    `json:"id" db:"id"`
	RequestID string    `json:"request_id" db:"request_id"`
	AccountID string    `json:"account_id" db:"account_id"`
	Amount    int64     `json:"amount" db:"amount"`
	Channel   string    `json:"channel" db:"channel"` // CASH, PORTAL
	ActorID   string    `json:"actor_id" db:"actor_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
