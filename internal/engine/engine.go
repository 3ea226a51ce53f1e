package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mastersync/internal/config"
	"mastersync/internal/domain"
	"mastersync/internal/events"
	"mastersync/internal/notify"
	"mastersync/internal/reconcile"
	"mastersync/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) instanceID() string {
	if e.Config == nil {
		return ""
	}
	return e.Config.Instance.ID
}

func (e Engine) titlePrefix() string {
	if e.Config == nil {
		return ""
	}
	return e.Config.Cards.TitlePrefix
}

func (e Engine) policy() notify.Policy {
	p := notify.DefaultPolicy()
	if e.Config == nil {
		return p
	}
	if len(e.Config.Notifications.NotifyDays) > 0 {
		p.NotifyDays = e.Config.Notifications.NotifyDays
	}
	if e.Config.Notifications.RenotifyGateHours > 0 {
		p.RenotifyGate = time.Duration(e.Config.Notifications.RenotifyGateHours) * time.Hour
	}
	return p
}

// UpsertMaster validates the master, derives its status and persists it.
// A master without a uuid gets one assigned.
func (e Engine) UpsertMaster(ctx context.Context, m domain.Master) (domain.Master, error) {
	if m.UUID == "" {
		m.UUID = uuid.NewString()
	}
	m, err := domain.NewMaster(m)
	if err != nil {
		return domain.Master{}, err
	}
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Master{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpsertMaster(ctx, tx, m, now); err != nil {
		return domain.Master{}, fmt.Errorf("upsert master: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "master.upserted", e.instanceID(), "master", m.UUID, events.EventPayload{
		"discipline": m.Discipline,
		"semester":   m.Semester,
		"status":     m.Status,
	}); err != nil {
		return domain.Master{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Master{}, err
	}
	return m, nil
}

// ReconcileResult is the outcome of one reconciliation pass.
type ReconcileResult struct {
	Master        domain.Master     `json:"master"`
	Notifications []notify.Rendered `json:"notifications"`
}

// ReconcileMaster recomputes the master's cards from the stored planners and
// agents, diffs against the stored snapshot, and persists the new snapshot
// together with the generated notifications in one transaction.
func (e Engine) ReconcileMaster(ctx context.Context, masterUUID string) (ReconcileResult, error) {
	old, err := e.Repo.GetMaster(ctx, masterUUID)
	if err != nil {
		return ReconcileResult{}, err
	}
	planners, err := e.Repo.ListPlanners(ctx)
	if err != nil {
		return ReconcileResult{}, err
	}
	agents, err := e.Repo.ListAgents(ctx)
	if err != nil {
		return ReconcileResult{}, err
	}

	now := e.now()
	current, err := reconcile.Cards(reconcile.Input{
		Master:      old,
		Planners:    planners,
		Agents:      agents,
		Now:         now,
		TitlePrefix: e.titlePrefix(),
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	diff, err := notify.Diff(old, current, now, e.policy())
	if err != nil {
		return ReconcileResult{}, err
	}
	notifications := diff.Notifications
	if e.Config != nil && e.Config.Notifications.Aggregate && len(notifications) > 0 {
		notifications, err = notify.Aggregate(notifications, diff.Master.Discipline)
		if err != nil {
			return ReconcileResult{}, err
		}
	}
	rendered := make([]notify.Rendered, 0, len(notifications))
	for _, n := range notifications {
		r, err := n.Render()
		if err != nil {
			return ReconcileResult{}, err
		}
		rendered = append(rendered, r)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ReconcileResult{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpsertMaster(ctx, tx, diff.Master, now); err != nil {
		return ReconcileResult{}, fmt.Errorf("persist reconciled master: %w", err)
	}
	for _, card := range diff.Master.Cards {
		if !card.Create {
			continue
		}
		if err := e.Events.Append(ctx, tx, "card.created", e.instanceID(), "card", card.PlanID, events.EventPayload{
			"master": diff.Master.UUID,
			"title":  card.Title,
		}); err != nil {
			return ReconcileResult{}, err
		}
	}
	for i, n := range notifications {
		stored, err := storedNotification(diff.Master.UUID, n, rendered[i], now)
		if err != nil {
			return ReconcileResult{}, err
		}
		if err := e.Repo.InsertNotification(ctx, tx, stored); err != nil {
			return ReconcileResult{}, fmt.Errorf("insert notification: %w", err)
		}
		if err := e.Events.Append(ctx, tx, "notification.generated", e.instanceID(), "notification", n.UUID, events.EventPayload{
			"code":   string(n.Code),
			"master": diff.Master.UUID,
		}); err != nil {
			return ReconcileResult{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "master.reconciled", e.instanceID(), "master", diff.Master.UUID, events.EventPayload{
		"cards":         len(diff.Master.Cards),
		"status":        diff.Master.Status,
		"notifications": len(notifications),
	}); err != nil {
		return ReconcileResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ReconcileResult{}, err
	}
	return ReconcileResult{Master: diff.Master, Notifications: rendered}, nil
}

func storedNotification(masterUUID string, n notify.Notification, r notify.Rendered, now time.Time) (repo.StoredNotification, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return repo.StoredNotification{}, fmt.Errorf("marshal notification: %w", err)
	}
	stored := repo.StoredNotification{
		UUID:            n.UUID,
		MasterUUID:      masterUUID,
		Code:            string(n.Code),
		MessageComplete: r.Messages.Complete,
		MessageReduced:  r.Messages.Reduced,
		PayloadJSON:     string(payload),
		CreatedAt:       now.UTC().Format(time.RFC3339),
	}
	if n.Agent != nil {
		stored.AgentUUID = &n.Agent.UUID
	}
	if n.Chat != nil {
		stored.ChatUUID = &n.Chat.UUID
	}
	return stored, nil
}

func (e Engine) FindAllMasters(ctx context.Context, c repo.MasterCriteria) (repo.MasterPage, error) {
	return e.Repo.FindAllMasters(ctx, c)
}

func (e Engine) DeleteMaster(ctx context.Context, masterUUID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteMaster(ctx, tx, masterUUID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "master.deleted", e.instanceID(), "master", masterUUID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) UpsertAgent(ctx context.Context, a domain.Agent) (domain.Agent, error) {
	a, err := domain.NewAgent(a)
	if err != nil {
		return domain.Agent{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertAgent(ctx, tx, a, e.now()); err != nil {
		return domain.Agent{}, err
	}
	if err := e.Events.Append(ctx, tx, "agent.upserted", e.instanceID(), "agent", a.UUID, events.EventPayload{"alias": a.Alias}); err != nil {
		return domain.Agent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

func (e Engine) DeleteAgent(ctx context.Context, agentUUID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAgent(ctx, tx, agentUUID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "agent.deleted", e.instanceID(), "agent", agentUUID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) UpsertPlanner(ctx context.Context, p domain.Planner) (domain.Planner, error) {
	p, err := domain.NewPlanner(p)
	if err != nil {
		return domain.Planner{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Planner{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertPlanner(ctx, tx, p, e.now()); err != nil {
		return domain.Planner{}, err
	}
	if err := e.Events.Append(ctx, tx, "planner.upserted", e.instanceID(), "planner", p.UUID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Planner{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Planner{}, err
	}
	return p, nil
}

func (e Engine) DeletePlanner(ctx context.Context, plannerUUID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeletePlanner(ctx, tx, plannerUUID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "planner.deleted", e.instanceID(), "planner", plannerUUID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// InitInstance bootstraps a workspace: default config persisted and recorded.
func (e Engine) InitInstance(ctx context.Context, instanceID string) (*config.Config, error) {
	if instanceID == "" {
		return nil, errors.New("instance id is required")
	}
	cfg := config.Default(instanceID)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertInstanceConfigTx(ctx, tx, instanceID, cfg); err != nil {
		return nil, fmt.Errorf("insert instance config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "instance.init", instanceID, "instance", instanceID, nil); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return cfg, nil
}
