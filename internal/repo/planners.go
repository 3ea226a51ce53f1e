package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mastersync/internal/domain"
)

func (r Repo) UpsertPlanner(ctx context.Context, tx *sql.Tx, p domain.Planner, now time.Time) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal planner: %w", err)
	}
	ts := now.UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `INSERT INTO planners(uuid,group_id,name,payload_json,created_at,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(uuid) DO UPDATE SET group_id=excluded.group_id, name=excluded.name, payload_json=excluded.payload_json, updated_at=excluded.updated_at`,
		p.UUID, p.GroupID, p.Name, string(payload), ts, ts)
	return err
}

func (r Repo) GetPlanner(ctx context.Context, uuid string) (domain.Planner, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT payload_json FROM planners WHERE uuid=?`, uuid).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.Planner{}, ErrNotFound
	}
	if err != nil {
		return domain.Planner{}, err
	}
	var p domain.Planner
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return domain.Planner{}, fmt.Errorf("unmarshal planner %s: %w", uuid, err)
	}
	return p, nil
}

func (r Repo) DeletePlanner(ctx context.Context, tx *sql.Tx, uuid string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM planners WHERE uuid=?`, uuid)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListPlanners(ctx context.Context) ([]domain.Planner, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT payload_json FROM planners ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Planner
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var p domain.Planner
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("unmarshal planner: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
