package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mastersync/internal/domain"
)

func (r Repo) UpsertAgent(ctx context.Context, tx *sql.Tx, a domain.Agent, now time.Time) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal agent: %w", err)
	}
	ts := now.UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `INSERT INTO agents(uuid,alias,name,email,payload_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(uuid) DO UPDATE SET alias=excluded.alias, name=excluded.name, email=excluded.email, payload_json=excluded.payload_json, updated_at=excluded.updated_at`,
		a.UUID, a.Alias, a.Name, a.Email, string(payload), ts, ts)
	return err
}

func (r Repo) GetAgent(ctx context.Context, uuid string) (domain.Agent, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT payload_json FROM agents WHERE uuid=?`, uuid).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.Agent{}, ErrNotFound
	}
	if err != nil {
		return domain.Agent{}, err
	}
	var a domain.Agent
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return domain.Agent{}, fmt.Errorf("unmarshal agent %s: %w", uuid, err)
	}
	return a, nil
}

func (r Repo) DeleteAgent(ctx context.Context, tx *sql.Tx, uuid string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE uuid=?`, uuid)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT payload_json FROM agents ORDER BY alias ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var a domain.Agent
		if err := json.Unmarshal([]byte(payload), &a); err != nil {
			return nil, fmt.Errorf("unmarshal agent: %w", err)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
