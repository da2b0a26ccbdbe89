// File: internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fitchecklabs/fitcheck-cli/api/schemas"
	"github.com/fitchecklabs/fitcheck-cli/internal/config"
)

// DB abstracts the pgx pool so tests can substitute a mock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore is the durable Store backend.
type PostgresStore struct {
	db     DB
	logger *zap.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects a pool, verifies the connection, and
// ensures the schema exists.
func NewPostgresStore(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	s, err := NewPostgresStoreWithDB(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreWithDB wires an existing connection source.
func NewPostgresStoreWithDB(ctx context.Context, db DB, logger *zap.Logger) (*PostgresStore, error) {
	s := &PostgresStore{db: db, logger: logger.Named("postgres-store")}
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS avatars (
	id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	base64 TEXT NOT NULL,
	file_name TEXT NOT NULL,
	upload_date TIMESTAMPTZ NOT NULL,
	file_size BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS settings (
	id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	auto_detect_enabled BOOLEAN NOT NULL,
	manual_selection_enabled BOOLEAN NOT NULL,
	notifications_enabled BOOLEAN NOT NULL
);
CREATE TABLE IF NOT EXISTS remote_config (
	id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	api_key TEXT NOT NULL,
	auth_domain TEXT NOT NULL,
	project_id TEXT NOT NULL,
	storage_bucket TEXT NOT NULL,
	messaging_sender_id TEXT NOT NULL,
	app_id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tryon_history (
	id UUID PRIMARY KEY,
	clothing_url TEXT NOT NULL,
	page_url TEXT NOT NULL,
	success BOOLEAN NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
`

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveAvatar(ctx context.Context, rec schemas.AvatarRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO avatars (id, base64, file_name, upload_date, file_size)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			base64 = EXCLUDED.base64,
			file_name = EXCLUDED.file_name,
			upload_date = EXCLUDED.upload_date,
			file_size = EXCLUDED.file_size`,
		rec.Base64, rec.FileName, rec.UploadDate, rec.FileSize)
	if err != nil {
		return fmt.Errorf("saving avatar: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAvatar(ctx context.Context) (schemas.AvatarRecord, error) {
	var rec schemas.AvatarRecord
	err := s.db.QueryRow(ctx, `
		SELECT base64, file_name, upload_date, file_size FROM avatars WHERE id = 1`).
		Scan(&rec.Base64, &rec.FileName, &rec.UploadDate, &rec.FileSize)
	if errors.Is(err, pgx.ErrNoRows) {
		return schemas.AvatarRecord{}, ErrNotFound
	}
	if err != nil {
		return schemas.AvatarRecord{}, fmt.Errorf("loading avatar: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) SaveSettings(ctx context.Context, rec schemas.SettingsRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO settings (id, auto_detect_enabled, manual_selection_enabled, notifications_enabled)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			auto_detect_enabled = EXCLUDED.auto_detect_enabled,
			manual_selection_enabled = EXCLUDED.manual_selection_enabled,
			notifications_enabled = EXCLUDED.notifications_enabled`,
		rec.AutoDetectEnabled, rec.ManualSelectionEnabled, rec.NotificationsEnabled)
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSettings(ctx context.Context) (schemas.SettingsRecord, error) {
	var rec schemas.SettingsRecord
	err := s.db.QueryRow(ctx, `
		SELECT auto_detect_enabled, manual_selection_enabled, notifications_enabled
		FROM settings WHERE id = 1`).
		Scan(&rec.AutoDetectEnabled, &rec.ManualSelectionEnabled, &rec.NotificationsEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return schemas.DefaultSettings(), nil
	}
	if err != nil {
		return schemas.SettingsRecord{}, fmt.Errorf("loading settings: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) SaveRemoteConfig(ctx context.Context, cfg schemas.RemoteConfig) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO remote_config (id, api_key, auth_domain, project_id, storage_bucket, messaging_sender_id, app_id)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			api_key = EXCLUDED.api_key,
			auth_domain = EXCLUDED.auth_domain,
			project_id = EXCLUDED.project_id,
			storage_bucket = EXCLUDED.storage_bucket,
			messaging_sender_id = EXCLUDED.messaging_sender_id,
			app_id = EXCLUDED.app_id`,
		cfg.APIKey, cfg.AuthDomain, cfg.ProjectID, cfg.StorageBucket, cfg.MessagingSenderID, cfg.AppID)
	if err != nil {
		return fmt.Errorf("saving remote config: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRemoteConfig(ctx context.Context) (schemas.RemoteConfig, error) {
	var cfg schemas.RemoteConfig
	err := s.db.QueryRow(ctx, `
		SELECT api_key, auth_domain, project_id, storage_bucket, messaging_sender_id, app_id
		FROM remote_config WHERE id = 1`).
		Scan(&cfg.APIKey, &cfg.AuthDomain, &cfg.ProjectID, &cfg.StorageBucket, &cfg.MessagingSenderID, &cfg.AppID)
	if errors.Is(err, pgx.ErrNoRows) {
		return schemas.RemoteConfig{}, ErrNotFound
	}
	if err != nil {
		return schemas.RemoteConfig{}, fmt.Errorf("loading remote config: %w", err)
	}
	return cfg, nil
}

func (s *PostgresStore) AddTryOn(ctx context.Context, rec schemas.TryOnRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO tryon_history (id, clothing_url, page_url, success, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.ClothingURL, rec.PageURL, rec.Success, rec.Error, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording try-on: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTryOns(ctx context.Context, limit int) ([]schemas.TryOnRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, clothing_url, page_url, success, error, created_at
		FROM tryon_history ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing try-on history: %w", err)
	}
	defer rows.Close()

	var out []schemas.TryOnRecord
	for rows.Next() {
		var rec schemas.TryOnRecord
		if err := rows.Scan(&rec.ID, &rec.ClothingURL, &rec.PageURL, &rec.Success, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning try-on row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating try-on rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close(context.Context) error {
	s.db.Close()
	return nil
}
