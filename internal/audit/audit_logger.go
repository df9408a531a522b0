package audit

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"
)

type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	SaleID    string    `json:"sale_id,omitempty"`
	AccountID string    `json:"account_id,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

// Logger emits structured audit events for every financial mutation and
// appends a human-readable row to action_logs. Both paths are best-effort:
// an audit failure must never roll back an already-committed mutation.
type Logger struct {
	db *sql.DB
}

func NewLogger(db *sql.DB) *Logger {
	return &Logger{db: db}
}

func (a *Logger) LogCheckout(saleID, accountID string, amount int64, status string) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "CHECKOUT",
		SaleID:    saleID,
		AccountID: accountID,
		Amount:    amount,
		Status:    status,
	})
}

func (a *Logger) LogVoid(saleID, lineID, accountID string, amount int64, status string) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "VOID",
		SaleID:    saleID,
		AccountID: accountID,
		Amount:    amount,
		Status:    status,
		Details:   map[string]string{"line_id": lineID},
	})
}

func (a *Logger) LogTopUp(topupID, accountID string, amount int64, status string) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "TOPUP",
		SaleID:    topupID,
		AccountID: accountID,
		Amount:    amount,
		Status:    status,
	})
}

func (a *Logger) LogError(saleID, accountID string, err error) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "ERROR",
		SaleID:    saleID,
		AccountID: accountID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

// RecordAction appends to the action_logs table. Errors are logged and
// swallowed; the caller has already committed its financial state.
func (a *Logger) RecordAction(actorID, action, details string) {
	if a.db == nil {
		return
	}
	_, err := a.db.Exec(`
		INSERT INTO action_logs (actor_id, action, details, created_at)
		VALUES ($1, $2, $3, $4)`,
		actorID, action, details, time.Now())
	if err != nil {
		log.Printf("AUDIT: action log write failed (action=%s): %v", action, err)
	}
}

func (a *Logger) log(event AuditEvent) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
