package directory

import (
	"errors"
	"time"
)

var ErrUserNotFound = errors.New("user not found")

const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

const (
	StudentStatusActive   = "active"
	StudentStatusInactive = "inactive"
)

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Role         string     `json:"role"`
	Status       string     `json:"status"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
	LastActivity *time.Time `json:"lastActivity,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

type Student struct {
	ID        string    `json:"id"`
	Reference string    `json:"reference"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
