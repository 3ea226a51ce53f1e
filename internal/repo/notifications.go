package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// StoredNotification is one outbox row: a rendered notification waiting for
// delivery, or already delivered.
type StoredNotification struct {
	ID              int64   `json:"id"`
	UUID            string  `json:"uuid"`
	MasterUUID      string  `json:"masterUuid"`
	Code            string  `json:"code"`
	AgentUUID       *string `json:"agentUuid,omitempty"`
	ChatUUID        *string `json:"chatUuid,omitempty"`
	MessageComplete string  `json:"messageComplete"`
	MessageReduced  string  `json:"messageReduced"`
	PayloadJSON     string  `json:"-"`
	CreatedAt       string  `json:"createdAt"`
	DeliveredAt     *string `json:"deliveredAt,omitempty"`
}

func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n StoredNotification) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO notifications(uuid,master_uuid,code,agent_uuid,chat_uuid,message_complete,message_reduced,payload_json,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		n.UUID, n.MasterUUID, n.Code, nullableStringPtr(n.AgentUUID), nullableStringPtr(n.ChatUUID), n.MessageComplete, n.MessageReduced, n.PayloadJSON, n.CreatedAt)
	return err
}

type NotificationFilters struct {
	MasterUUID  string
	Code        string
	Undelivered bool
	Limit       int
}

func (r Repo) ListNotifications(ctx context.Context, f NotificationFilters) ([]StoredNotification, error) {
	var clauses []string
	var args []any
	if f.MasterUUID != "" {
		clauses = append(clauses, "master_uuid=?")
		args = append(args, f.MasterUUID)
	}
	if f.Code != "" {
		clauses = append(clauses, "code=?")
		args = append(args, f.Code)
	}
	if f.Undelivered {
		clauses = append(clauses, "delivered_at IS NULL")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,uuid,master_uuid,code,agent_uuid,chat_uuid,message_complete,message_reduced,payload_json,created_at,delivered_at FROM notifications ` + where + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// UndeliveredNotifications returns pending outbox rows in insertion order.
func (r Repo) UndeliveredNotifications(ctx context.Context, limit int) ([]StoredNotification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,uuid,master_uuid,code,agent_uuid,chat_uuid,message_complete,message_reduced,payload_json,created_at,delivered_at FROM notifications WHERE delivered_at IS NULL ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func (r Repo) MarkNotificationDelivered(ctx context.Context, id int64, now time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET delivered_at=? WHERE id=? AND delivered_at IS NULL`, now.UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanNotifications(rows *sql.Rows) ([]StoredNotification, error) {
	var res []StoredNotification
	for rows.Next() {
		var n StoredNotification
		var agent, chat, delivered sql.NullString
		if err := rows.Scan(&n.ID, &n.UUID, &n.MasterUUID, &n.Code, &agent, &chat, &n.MessageComplete, &n.MessageReduced, &n.PayloadJSON, &n.CreatedAt, &delivered); err != nil {
			return nil, err
		}
		if agent.Valid {
			n.AgentUUID = &agent.String
		}
		if chat.Valid {
			n.ChatUUID = &chat.String
		}
		if delivered.Valid {
			n.DeliveredAt = &delivered.String
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
