package models

import "time"

// User roles.
const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
	RoleParent  = "parent"
)

type User struct {
	ID          int        `json:"id" example:"1"`
	Email       string     `json:"email" example:"parent@example.com"`
	FirstName   string     `json:"first_name" example:"Maria"`
	LastName    string     `json:"last_name" example:"Santos"`
	Role        string     `json:"role" example:"parent"`
	PhoneNumber string     `json:"phone_number" example:"+639171234567"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
