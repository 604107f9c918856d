// Package domain contains entities and their invariants, no I/O.
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 150
)

var (
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
	ErrUsernameTooLong = errors.New("username too long")
)

// UserID is the stable identity resolved from a connection or request credential.
type UserID string

type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// NewUser builds a User from resolved credential claims.
// An empty username falls back to the id.
func NewUser(id, username string) (User, error) {
	id = strings.TrimSpace(id)
	username = strings.TrimSpace(username)
	if id == "" {
		return User{}, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return User{}, ErrUserIDTooLong
	}
	if len(username) > MaxUsernameLen {
		return User{}, ErrUsernameTooLong
	}
	if username == "" {
		username = id
	}
	return User{ID: UserID(id), Username: username}, nil
}
