package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"mastersync/internal/config"
	"mastersync/internal/db"
	"mastersync/internal/domain"
	"mastersync/internal/engine"
	"mastersync/internal/migrate"
	"mastersync/internal/server"
)

func main() {
	workspace := "/tmp/mastersync-smoke"
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		panic(err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		panic(err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		panic(err)
	}
	cfg := config.Default("smoke")
	e := engine.New(conn, cfg)
	if _, err := e.InitInstance(context.Background(), cfg.Instance.ID); err != nil {
		panic(err)
	}
	h, err := server.New(server.Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		panic(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()

	put(ts.URL+"/v0/planners", domain.Planner{
		UUID:    "pl-1",
		GroupID: "grp-1",
		Name:    "Board 2026.1",
		Buckets: []domain.Bucket{
			{UUID: "b-default", Name: "To do", IsDefault: true},
			{UUID: "b-solved", Name: "Solved", IsSolved: true},
			{UUID: "b-solved-lms", Name: "Solved LMS", IsSolvedLMS: true},
			{UUID: "b-video", Name: "Video"},
		},
	})
	put(ts.URL+"/v0/agents", domain.Agent{
		UUID: "ag-1", Alias: "ana", Name: "Ana", Email: "ana@example.com",
	})
	start := time.Now().Add(-48 * time.Hour)
	put(ts.URL+"/v0/masters", domain.Master{
		UUID:       "m-1",
		Discipline: "Linear Algebra",
		Semester:   "2026.1",
		Contents: []domain.Content{
			{UUID: "c-1", ColumnName: "videoUrl", Title: "Lecture video", PlannerUUID: "pl-1", BucketUUID: "b-video", Status: domain.StatusMissing},
			{UUID: "c-2", ColumnName: "syllabusUrl", Title: "Syllabus", PlannerUUID: "pl-1", Status: domain.StatusOK},
		},
		Projects: []domain.Project{{
			UUID: "pr-1", Name: "2026.1 run", Identifier: "LA-2026-1",
			StatusColumn: "status", Module: "M1", StartDate: &start,
			Agents: []domain.Agent{{UUID: "ag-1", Alias: "ana", Name: "Ana", Email: "ana@example.com"}},
			Chats:  []domain.Chat{{UUID: "ch-1", Name: "LA chat", IsDefault: true}},
		}},
	})

	res, err := http.Post(ts.URL+"/v0/masters/m-1/reconcile", "application/json", nil)
	if err != nil {
		panic(err)
	}
	defer res.Body.Close()
	var out engine.ReconcileResult
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		panic(err)
	}
	fmt.Printf("status=%d cards=%d notifications=%d master_status=%s\n",
		res.StatusCode, len(out.Master.Cards), len(out.Notifications), out.Master.Status)
	for _, n := range out.Notifications {
		fmt.Printf("  %s reduced=%q\n", n.Code, n.Messages.Reduced)
	}
}

func put(url string, body any) {
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPut, url, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		panic(err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		var e any
		_ = json.NewDecoder(res.Body).Decode(&e)
		panic(fmt.Sprintf("PUT %s: status=%d body=%v", url, res.StatusCode, e))
	}
}
