// File: internal/store/store.go

// Package store persists the user's avatar, settings, try-on history,
// and the cached remote configuration. Two backends exist: Postgres for
// durable installs and an in-memory store for ephemeral runs and tests.
package store

import (
	"context"
	"errors"

	"github.com/fitchecklabs/fitcheck-cli/api/schemas"
)

// ErrNotFound reports a record that has never been written.
var ErrNotFound = errors.New("record not found")

// Store is the persistence contract the broker and controller consume.
type Store interface {
	// SaveAvatar replaces the stored avatar record.
	SaveAvatar(ctx context.Context, rec schemas.AvatarRecord) error
	// GetAvatar returns the stored avatar or ErrNotFound.
	GetAvatar(ctx context.Context) (schemas.AvatarRecord, error)

	// SaveSettings replaces the stored settings record.
	SaveSettings(ctx context.Context, rec schemas.SettingsRecord) error
	// GetSettings returns stored settings, or the defaults when none
	// were ever saved.
	GetSettings(ctx context.Context) (schemas.SettingsRecord, error)

	// SaveRemoteConfig caches the last successfully fetched shared config.
	SaveRemoteConfig(ctx context.Context, cfg schemas.RemoteConfig) error
	// GetRemoteConfig returns the cached shared config or ErrNotFound.
	GetRemoteConfig(ctx context.Context) (schemas.RemoteConfig, error)

	// AddTryOn appends one try-on attempt to history.
	AddTryOn(ctx context.Context, rec schemas.TryOnRecord) error
	// ListTryOns returns the most recent attempts, newest first.
	ListTryOns(ctx context.Context, limit int) ([]schemas.TryOnRecord, error)

	// Close releases backend resources.
	Close(ctx context.Context) error
}
