package server

import (
	"fmt"
	"strconv"

	"mastersync/internal/repo"
)

// masterListQuery is the flat query-string form of repo.MasterCriteria.
type masterListQuery struct {
	Limit      int    `query:"limit" default:"50"`
	Start      int    `query:"start"`
	SortBy     string `query:"sort_by"`
	Order      string `query:"order"`
	Discipline string `query:"discipline"`
	UUID       string `query:"uuid"`
	MasterID   string `query:"master_id"`
	Semester   string `query:"semester"`
	Status     string `query:"status"`
	Project    string `query:"project"`
	Agent      string `query:"agent"`
}

func (q masterListQuery) criteria() (repo.MasterCriteria, error) {
	c := repo.MasterCriteria{
		Limit: q.Limit,
		Start: q.Start,
		SortBy: repo.SortBy{
			Property: q.SortBy,
			Order:    q.Order,
		},
		Filter: repo.MasterFilter{
			Discipline: q.Discipline,
			UUID:       q.UUID,
			Semester:   q.Semester,
			Status:     q.Status,
			Project:    q.Project,
			Agent:      q.Agent,
		},
	}
	if q.MasterID != "" {
		id, err := strconv.ParseInt(q.MasterID, 10, 64)
		if err != nil {
			return repo.MasterCriteria{}, fmt.Errorf("invalid master_id %q", q.MasterID)
		}
		c.Filter.MasterID = &id
	}
	return c, nil
}
