package models

import "time"

// ActionLog is the append-only trail of user-visible actions (login,
// checkout, void, top-up, item edits). It carries no financial
// invariants; writes are best-effort.
type ActionLog struct {
	ID        int64     `json:"id" db:"id"`
	ActorID   string    `json:"actor_id" db:"actor_id"`
	Action    string    `json:"action" db:"action"`
	Details   string    `json:"details" db:"details"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
