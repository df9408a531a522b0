package models

import "time"

// Card is an RFID canteen card linked to an account. The UID comes from
// the physical card; one account can hold several cards over time but at
// most one ACTIVE card.
type Card struct {
	CardUID        string     `json:"card_uid" db:"card_uid"`
	AccountID      string     `json:"account_id" db:"account_id"`
	Status         string     `json:"status" db:"status"` // PROVISIONED, ACTIVE, SUSPENDED
	ActivationCode string     `json:"-" db:"activation_code"`
	IssuedAt       time.Time  `json:"issued_at" db:"issued_at"`
	ActivatedAt    *time.Time `json:"activated_at,omitempty" db:"activated_at"`
	SuspendedAt    *time.Time `json:"suspended_at,omitempty" db:"suspended_at"`
}

const (
	CardStatusProvisioned = "PROVISIONED"
	CardStatusActive      = "ACTIVE"
	CardStatusSuspended   = "SUSPENDED"
)
