package domain

import "time"

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleStudent
}

type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	StudentID    string
	RoomNumber   string
	CreatedAt    time.Time
}
