package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the slice of the platform account this service owns: the credit
// balance and the active flag toggled by dispute handling.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Credits   int64     `json:"credits"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
