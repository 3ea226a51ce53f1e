package domain

import (
	"fmt"
	"strings"
)

// FieldError describes a single schema violation on raw input.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every field error found while validating an entity.
// Construction fails as a whole: no partially-built entity is ever returned.
type ValidationError struct {
	Entity string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("invalid %s: %s", e.Entity, strings.Join(parts, "; "))
}

type fieldErrors struct {
	entity string
	errs   []FieldError
}

func (f *fieldErrors) add(field, format string, args ...any) {
	f.errs = append(f.errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (f *fieldErrors) require(field, value string) {
	if strings.TrimSpace(value) == "" {
		f.add(field, "is required")
	}
}

func (f *fieldErrors) result() error {
	if len(f.errs) == 0 {
		return nil
	}
	return &ValidationError{Entity: f.entity, Fields: f.errs}
}

// contentStatusValid accepts the statuses a single content may carry.
// INCOMPLETE is reserved for master-level aggregation.
func contentStatusValid(s Status) bool {
	switch s {
	case "", StatusOK, StatusMissing, StatusNotApplicable:
		return true
	}
	return false
}

// NewMaster validates and normalizes a raw master. Cards default to an empty
// list and the status, when not explicitly supplied, is derived from the
// contents.
func NewMaster(m Master) (Master, error) {
	v := &fieldErrors{entity: "master"}
	v.require("discipline", m.Discipline)
	v.require("semester", m.Semester)
	if m.Status != "" {
		switch m.Status {
		case StatusOK, StatusMissing, StatusNotApplicable, StatusIncomplete:
		default:
			v.add("status", "unknown status %q", m.Status)
		}
	}
	if m.MasterPublisher != nil {
		validatePublisher(v, "masterPublisher", *m.MasterPublisher)
	}
	if m.ProductionPublisher != nil {
		validatePublisher(v, "productionPublisher", *m.ProductionPublisher)
	}
	for i, c := range m.Contents {
		validateContent(v, fmt.Sprintf("contents[%d]", i), c)
	}
	for i, p := range m.Projects {
		validateProject(v, fmt.Sprintf("projects[%d]", i), p)
	}
	for i, a := range m.Agents {
		validateAgent(v, fmt.Sprintf("agents[%d]", i), a)
	}
	for i, c := range m.Cards {
		validateCard(v, fmt.Sprintf("cards[%d]", i), c)
	}
	if err := v.result(); err != nil {
		return Master{}, err
	}
	if m.Cards == nil {
		m.Cards = []Card{}
	}
	if m.Status == "" {
		m.Status = Derive(m.Contents)
	}
	return m, nil
}

// NewAgent validates a raw agent.
func NewAgent(a Agent) (Agent, error) {
	v := &fieldErrors{entity: "agent"}
	validateAgent(v, "", a)
	if err := v.result(); err != nil {
		return Agent{}, err
	}
	return a, nil
}

// NewPlanner validates a raw planner and its buckets.
func NewPlanner(p Planner) (Planner, error) {
	v := &fieldErrors{entity: "planner"}
	v.require("uuid", p.UUID)
	v.require("groupId", p.GroupID)
	v.require("name", p.Name)
	var defaults, solved, solvedLMS int
	for i, b := range p.Buckets {
		prefix := fmt.Sprintf("buckets[%d]", i)
		v.require(prefix+".uuid", b.UUID)
		v.require(prefix+".name", b.Name)
		if b.IsDefault {
			defaults++
		}
		if b.IsSolved {
			solved++
		}
		if b.IsSolvedLMS {
			solvedLMS++
		}
	}
	if defaults > 1 {
		v.add("buckets", "more than one default bucket")
	}
	if solved > 1 {
		v.add("buckets", "more than one solved bucket")
	}
	if solvedLMS > 1 {
		v.add("buckets", "more than one solved LMS bucket")
	}
	if err := v.result(); err != nil {
		return Planner{}, err
	}
	return p, nil
}

func validateAgent(v *fieldErrors, prefix string, a Agent) {
	v.require(join(prefix, "uuid"), a.UUID)
	v.require(join(prefix, "alias"), a.Alias)
	v.require(join(prefix, "name"), a.Name)
	v.require(join(prefix, "email"), a.Email)
}

func validateContent(v *fieldErrors, prefix string, c Content) {
	v.require(join(prefix, "uuid"), c.UUID)
	v.require(join(prefix, "columnName"), c.ColumnName)
	v.require(join(prefix, "title"), c.Title)
	if !contentStatusValid(c.Status) {
		v.add(join(prefix, "status"), "status %q not allowed on content", c.Status)
	}
}

func validateProject(v *fieldErrors, prefix string, p Project) {
	v.require(join(prefix, "uuid"), p.UUID)
	v.require(join(prefix, "name"), p.Name)
	v.require(join(prefix, "identifier"), p.Identifier)
	v.require(join(prefix, "statusColumn"), p.StatusColumn)
	if n := len(p.Module); n < 1 || n > 2 {
		v.add(join(prefix, "module"), "must be 1 or 2 characters")
	}
	for i, t := range p.Tags {
		validateTag(v, fmt.Sprintf("%s.tags[%d]", prefix, i), t)
	}
	for i, a := range p.Agents {
		validateAgent(v, fmt.Sprintf("%s.agents[%d]", prefix, i), a)
	}
	for i, c := range p.Chats {
		tp := fmt.Sprintf("%s.chats[%d]", prefix, i)
		v.require(tp+".uuid", c.UUID)
		v.require(tp+".name", c.Name)
	}
}

func validateCard(v *fieldErrors, prefix string, c Card) {
	v.require(join(prefix, "planId"), c.PlanID)
	v.require(join(prefix, "title"), c.Title)
	for i, item := range c.Checklist {
		ip := fmt.Sprintf("%s.checklist[%d]", prefix, i)
		v.require(ip+".id", item.ID)
	}
}

func validateTag(v *fieldErrors, prefix string, t Tag) {
	v.require(join(prefix, "uuid"), t.UUID)
	v.require(join(prefix, "name"), t.Name)
	v.require(join(prefix, "apiId"), t.APIID)
}

func validatePublisher(v *fieldErrors, prefix string, p Publisher) {
	v.require(join(prefix, "uuid"), p.UUID)
	v.require(join(prefix, "name"), p.Name)
	for i, t := range p.Tags {
		validateTag(v, fmt.Sprintf("%s.tags[%d]", prefix, i), t)
	}
}

func join(prefix, field string) string {
	if prefix == "" {
		return field
	}
	return prefix + "." + field
}
