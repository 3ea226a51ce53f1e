package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mastersync/internal/config"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) UpsertInstanceConfig(ctx context.Context, instanceID string, cfg *config.Config) error {
	return upsertInstanceConfig(ctx, r.DB, nil, instanceID, cfg)
}

func (r Repo) UpsertInstanceConfigTx(ctx context.Context, tx *sql.Tx, instanceID string, cfg *config.Config) error {
	return upsertInstanceConfig(ctx, nil, tx, instanceID, cfg)
}

func upsertInstanceConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, instanceID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Instance.ID = instanceID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO instance_configs(instance_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(instance_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, instanceID, string(payload), now, now)
	return err
}

func (r Repo) GetInstanceConfig(ctx context.Context, instanceID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM instance_configs WHERE instance_id=?`, instanceID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Instance.ID == "" {
		cfg.Instance.ID = instanceID
	}
	return &cfg, cfg.Validate()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
