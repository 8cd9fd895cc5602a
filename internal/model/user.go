package model

import "time"

// User is an account that can contribute credentials to the shared pool.
// Users are created at registration and never deleted.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}
