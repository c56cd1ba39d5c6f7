//go:generate go run go.uber.org/mock/mockgen -source=store_iface.go -destination=../mocks/mock_user_store.go -package=mocks
package core

import (
	"context"
	"time"

	"github.com/dkeye/Relay/internal/domain"
)

// UserStore is the durable user collection owned by the REST layer.
type UserStore interface {
	UpdateUserStatus(ctx context.Context, id domain.UserID, status domain.Status, lastSeen *time.Time) error
	GetUserStatus(ctx context.Context, id domain.UserID) (domain.UserStatus, error)
	Close() error
}

// StatusWriter mirrors presence transitions into the UserStore.
// Write must never block the caller.
type StatusWriter interface {
	Write(id domain.UserID, status domain.Status, lastSeen *time.Time)
}
