package models

import (
	"time"
)

// CatalogItem is a menu entry. Price is in centavos. Items are retired,
// never deleted, so historical sale lines keep a valid reference point.
type CatalogItem struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Price     int64     `json:"price" db:"price"`
	Category  string    `json:"category" db:"category"`
	Status    string    `json:"status" db:"status"` // ACTIVE, RETIRED
	ImageURL  string    `json:"image_url" db:"image_url"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

const (
	ItemStatusActive  = "ACTIVE"
	ItemStatusRetired = "RETIRED"
)
