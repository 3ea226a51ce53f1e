package domain

import (
	"encoding/json"
	"time"
)

// Status is the completion state of a Content column or of a whole Master.
// INCOMPLETE is a Master-level aggregate only and never valid on a Content.
type Status string

const (
	StatusOK            Status = "OK"
	StatusMissing       Status = "MISSING"
	StatusNotApplicable Status = "NOT_APPLICABLE"
	StatusIncomplete    Status = "INCOMPLETE"
)

type Tag struct {
	UUID  string `json:"uuid"`
	Name  string `json:"name"`
	APIID string `json:"apiId"`
	Obs   string `json:"obs,omitempty"`
}

type Publisher struct {
	UUID string   `json:"uuid"`
	Name string   `json:"name"`
	Slug []string `json:"slug,omitempty"`
	Tags []Tag    `json:"tags"`
}

type Chat struct {
	UUID      string `json:"uuid"`
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
}

type Agent struct {
	UUID                     string   `json:"uuid"`
	Alias                    string   `json:"alias"`
	Name                     string   `json:"name"`
	Email                    string   `json:"email"`
	IsLeader                 bool     `json:"isLeader"`
	IncludeOnAllCardsPlanner bool     `json:"includeOnAllCardsPlanner,omitempty"`
	PlannersToInclude        []string `json:"plannersToInclude,omitempty"`
}

// Bucket is one lane of an external task-board planner. The wire names of the
// role flags follow the task-board integration contract.
type Bucket struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	IsDefault   bool   `json:"isDefault,omitempty"`
	IsSolved    bool   `json:"isSolvedBucked,omitempty"`
	IsSolvedLMS bool   `json:"isSolvedLmsBucked,omitempty"`
}

// Planner is an external task-board container. It is supplied per
// reconciliation call and never owned by a Master.
type Planner struct {
	UUID    string   `json:"uuid"`
	GroupID string   `json:"groupId"`
	Name    string   `json:"name"`
	Buckets []Bucket `json:"buckets,omitempty"`
}

// Content is one trackable requirement column within a Master.
type Content struct {
	UUID        string `json:"uuid"`
	ColumnName  string `json:"columnName"`
	Title       string `json:"title"`
	PlannerUUID string `json:"plannerUuid,omitempty"`
	BucketUUID  string `json:"bucketUuid,omitempty"`
	Status      Status `json:"status,omitempty"`
}

type Project struct {
	UUID         string     `json:"uuid"`
	Name         string     `json:"name"`
	Identifier   string     `json:"identifier"`
	AgentColumn  string     `json:"agentColumn,omitempty"`
	StatusColumn string     `json:"statusColumn"`
	StartDate    *time.Time `json:"startDate,omitempty"`
	EndDate      *time.Time `json:"endDate,omitempty"`
	Module       string     `json:"module"`
	Tags         []Tag      `json:"tags,omitempty"`
	Agents       []Agent    `json:"agents,omitempty"`
	Chats        []Chat     `json:"chats,omitempty"`
}

// Started reports whether the project has begun by now. A project with no
// start date is treated as already started.
func (p Project) Started(now time.Time) bool {
	return p.StartDate == nil || !p.StartDate.After(now)
}

type CheckValue struct {
	Title     string `json:"title"`
	IsChecked bool   `json:"isChecked"`
}

// CheckItem is one checklist line on a Card, usually backed by one Content.
// The notification dates are stamped by the notification diff engine, never
// by reconciliation.
type CheckItem struct {
	ID                    string     `json:"id"`
	ContentUUID           string     `json:"contentUuid,omitempty"`
	BucketID              string     `json:"bucketId"`
	FirstNotificationDate *time.Time `json:"firstNotificationDate,omitempty"`
	LastNotificationDate  *time.Time `json:"lastNotificationDate,omitempty"`
	Value                 CheckValue `json:"value"`
}

// Card is the task-board item holding a Master's outstanding work for one
// Planner. BucketID is derived on every reconciliation and never taken as
// authoritative input. An empty ID means the card has not been created on the
// external board yet.
type Card struct {
	Create            bool            `json:"create,omitempty"`
	PlanID            string          `json:"planId"`
	BucketID          string          `json:"bucketId,omitempty"`
	Title             string          `json:"title"`
	CreatedDateTime   *time.Time      `json:"createdDateTime,omitempty"`
	DueDateTime       time.Time       `json:"dueDateTime"`
	ID                string          `json:"id,omitempty"`
	AppliedCategories map[string]bool `json:"appliedCategories,omitempty"`
	Assignments       []string        `json:"assignments,omitempty"`
	Checklist         []CheckItem     `json:"checklist,omitempty"`
	ChatsUUID         []string        `json:"chatsUuid,omitempty"`
	LastUpdate        *time.Time      `json:"lastUpdate,omitempty"`
}

// Master is a tracked academic-discipline instance kept in sync with the
// external task board.
type Master struct {
	Discipline          string     `json:"discipline"`
	Equivalences        []string   `json:"equivalences,omitempty"`
	MasterPublisher     *Publisher `json:"masterPublisher,omitempty"`
	ProductionPublisher *Publisher `json:"productionPublisher,omitempty"`
	IsFirstPeriod       bool       `json:"isFirstPeriod"`
	MasterID            *int64     `json:"masterId,omitempty"`
	UUID                string     `json:"uuid,omitempty"`
	Semester            string     `json:"semester"`
	Contents            []Content  `json:"contents,omitempty"`
	Projects            []Project  `json:"projects,omitempty"`
	Agents              []Agent    `json:"agents,omitempty"`
	Cards               []Card     `json:"cards"`
	Status              Status     `json:"status,omitempty"`
}

// MarshalJSON exports the master with its status re-derived from the current
// contents. An explicitly supplied status is honored at construction only,
// never on export.
func (m Master) MarshalJSON() ([]byte, error) {
	type alias Master
	a := alias(m)
	a.Status = Derive(m.Contents)
	if a.Cards == nil {
		a.Cards = []Card{}
	}
	return json.Marshal(a)
}

// FindCardByPlan returns the index of the card bound to the given planner, or
// -1 when no card exists for it yet.
func (m Master) FindCardByPlan(planID string) int {
	for i, c := range m.Cards {
		if c.PlanID == planID {
			return i
		}
	}
	return -1
}

// FindContent resolves a content by uuid, returning nil when it is gone.
func (m Master) FindContent(uuid string) *Content {
	if uuid == "" {
		return nil
	}
	for i := range m.Contents {
		if m.Contents[i].UUID == uuid {
			return &m.Contents[i]
		}
	}
	return nil
}

// FindCardByID returns the card with the given external board id, or nil.
// Cards without an id never match.
func (m Master) FindCardByID(id string) *Card {
	if id == "" {
		return nil
	}
	for i := range m.Cards {
		if m.Cards[i].ID == id {
			return &m.Cards[i]
		}
	}
	return nil
}
