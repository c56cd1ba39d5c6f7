// Package domain holds the relay's value types: user and chat ids, presence
// records and the payload shapes used to route chat events.
package domain

import (
	"strings"
	"time"
)

const MaxUserIDLen = 64

type UserID string

// Status is the presence state mirrored into the user store.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// UserStatus is the durable part of a user record the relay writes to.
type UserStatus struct {
	ID       UserID     `json:"id"`
	Status   Status     `json:"status"`
	LastSeen *time.Time `json:"lastSeen"`
}

// NewUserID trims the raw identity sent by a client and checks its bounds.
func NewUserID(raw string) (UserID, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(id), nil
}
