package domain

import "time"

// User representa la cuenta durable de un usuario registrado.
// VerifyToken solo esta presente mientras la verificacion de email
// sigue pendiente; se limpia en la misma escritura que marca IsVerified.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsVerified   bool      `json:"is_verified"`
	VerifyToken  string    `json:"-"`
	CurrentRoom  *string   `json:"current_room,omitempty"`
	Icon         string    `json:"icon,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
