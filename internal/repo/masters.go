package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mastersync/internal/domain"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 1000
)

// MasterFilter narrows a master listing. Project matches a project uuid,
// identifier or name; Agent matches an agent uuid, alias or email anywhere on
// the master.
type MasterFilter struct {
	Discipline string
	UUID       string
	MasterID   *int64
	Semester   string
	Status     string
	Project    string
	Agent      string
}

// SortBy orders a master listing by one property.
type SortBy struct {
	Property string
	Order    string // ascending | descending
}

// MasterCriteria is a FindAllMasters request.
type MasterCriteria struct {
	Limit  int
	Start  int
	SortBy SortBy
	Filter MasterFilter
}

// MasterPage is one page of a master listing.
type MasterPage struct {
	TotalItems  int             `json:"totalItems"`
	Result      []domain.Master `json:"result"`
	TotalPages  int             `json:"totalPages"`
	CurrentPage int             `json:"currentPage"`
	Limit       int             `json:"limit"`
}

func (r Repo) UpsertMaster(ctx context.Context, tx *sql.Tx, m domain.Master, now time.Time) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal master: %w", err)
	}
	ts := now.UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `INSERT INTO masters(uuid,master_id,discipline,semester,status,payload_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(uuid) DO UPDATE SET master_id=excluded.master_id, discipline=excluded.discipline, semester=excluded.semester, status=excluded.status, payload_json=excluded.payload_json, updated_at=excluded.updated_at`,
		m.UUID, nullableInt64Ptr(m.MasterID), m.Discipline, m.Semester, string(m.Status), string(payload), ts, ts)
	return err
}

func (r Repo) GetMaster(ctx context.Context, uuid string) (domain.Master, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT payload_json FROM masters WHERE uuid=?`, uuid).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.Master{}, ErrNotFound
	}
	if err != nil {
		return domain.Master{}, err
	}
	var m domain.Master
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return domain.Master{}, fmt.Errorf("unmarshal master %s: %w", uuid, err)
	}
	return m, nil
}

func (r Repo) DeleteMaster(ctx context.Context, tx *sql.Tx, uuid string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM masters WHERE uuid=?`, uuid)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindAllMasters lists masters with filtering, sorting and offset pagination.
// Indexed properties filter in SQL; project and agent filters inspect the
// decoded payload.
func (r Repo) FindAllMasters(ctx context.Context, c MasterCriteria) (MasterPage, error) {
	limit := c.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	start := c.Start
	if start < 0 {
		start = 0
	}

	var clauses []string
	var args []any
	f := c.Filter
	if f.Discipline != "" {
		clauses = append(clauses, "discipline LIKE ?")
		args = append(args, "%"+f.Discipline+"%")
	}
	if f.UUID != "" {
		clauses = append(clauses, "uuid=?")
		args = append(args, f.UUID)
	}
	if f.MasterID != nil {
		clauses = append(clauses, "master_id=?")
		args = append(args, *f.MasterID)
	}
	if f.Semester != "" {
		clauses = append(clauses, "semester=?")
		args = append(args, f.Semester)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	orderBy, err := sortClause(c.SortBy)
	if err != nil {
		return MasterPage{}, err
	}

	rows, err := r.DB.QueryContext(ctx, `SELECT payload_json FROM masters `+where+` `+orderBy, args...)
	if err != nil {
		return MasterPage{}, err
	}
	defer rows.Close()

	var matched []domain.Master
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return MasterPage{}, err
		}
		var m domain.Master
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return MasterPage{}, fmt.Errorf("unmarshal master: %w", err)
		}
		if !matchesProject(m, f.Project) || !matchesAgent(m, f.Agent) {
			continue
		}
		matched = append(matched, m)
	}
	if err := rows.Err(); err != nil {
		return MasterPage{}, err
	}

	total := len(matched)
	end := start + limit
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	page := MasterPage{
		TotalItems:  total,
		Result:      matched[start:end],
		TotalPages:  (total + limit - 1) / limit,
		CurrentPage: c.Start/limit + 1,
		Limit:       limit,
	}
	if page.Result == nil {
		page.Result = []domain.Master{}
	}
	return page, nil
}

func sortClause(s SortBy) (string, error) {
	column := map[string]string{
		"":           "created_at",
		"discipline": "discipline",
		"semester":   "semester",
		"status":     "status",
		"masterId":   "master_id",
		"uuid":       "uuid",
		"createdAt":  "created_at",
		"updatedAt":  "updated_at",
	}[s.Property]
	if column == "" {
		return "", fmt.Errorf("cannot sort by property %q", s.Property)
	}
	dir := "ASC"
	switch s.Order {
	case "", "ascending":
	case "descending":
		dir = "DESC"
	default:
		return "", fmt.Errorf("invalid sort order %q", s.Order)
	}
	return fmt.Sprintf("ORDER BY %s %s, uuid %s", column, dir, dir), nil
}

func matchesProject(m domain.Master, needle string) bool {
	if needle == "" {
		return true
	}
	for _, p := range m.Projects {
		if p.UUID == needle || p.Identifier == needle || p.Name == needle {
			return true
		}
	}
	return false
}

func matchesAgent(m domain.Master, needle string) bool {
	if needle == "" {
		return true
	}
	match := func(a domain.Agent) bool {
		return a.UUID == needle || a.Alias == needle || a.Email == needle
	}
	for _, a := range m.Agents {
		if match(a) {
			return true
		}
	}
	for _, p := range m.Projects {
		for _, a := range p.Agents {
			if match(a) {
				return true
			}
		}
	}
	return false
}
