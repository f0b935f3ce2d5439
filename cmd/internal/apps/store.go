package apps

import (
	"context"
	"errors"
)

var (
	// ErrAppNotFound is returned when no app matches the lookup key.
	ErrAppNotFound = errors.New("app not found")

	// ErrInvalidApp is returned for app definitions that fail validation.
	ErrInvalidApp = errors.New("invalid app")
)

// Store resolves apps by public key (WebSocket connect) or by id (HTTP API).
type Store interface {
	FindByKey(ctx context.Context, key string) (App, error)
	FindByID(ctx context.Context, id string) (App, error)
}
