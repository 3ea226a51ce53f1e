package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mastersync/internal/config"
	"mastersync/internal/db"
	"mastersync/internal/domain"
	"mastersync/internal/engine"
	"mastersync/internal/migrate"
	"mastersync/internal/repo"
	"mastersync/internal/server"
)

var serverNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("test")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return serverNow }
	if _, err := eng.InitInstance(context.Background(), "test"); err != nil {
		t.Fatalf("init instance: %v", err)
	}
	h, err := server.New(server.Config{Engine: eng, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer res.Body.Close()
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return res.StatusCode
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]string
	if code := doJSON(t, http.MethodGet, ts.URL+"/v0/health", nil, &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestMasterLifecycle(t *testing.T) {
	ts := newTestServer(t)

	master := domain.Master{
		UUID:       "m-1",
		Discipline: "Calculus I",
		Semester:   "2026.1",
		Contents: []domain.Content{
			{UUID: "c-1", ColumnName: "videoUrl", Title: "Video", Status: domain.StatusMissing},
		},
	}
	var created domain.Master
	if code := doJSON(t, http.MethodPut, ts.URL+"/v0/masters", master, &created); code != http.StatusOK {
		t.Fatalf("put status = %d", code)
	}
	if created.Status != domain.StatusMissing {
		t.Fatalf("created = %+v", created)
	}

	var fetched domain.Master
	if code := doJSON(t, http.MethodGet, ts.URL+"/v0/masters/m-1", nil, &fetched); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if fetched.Discipline != "Calculus I" {
		t.Fatalf("fetched = %+v", fetched)
	}

	var page repo.MasterPage
	if code := doJSON(t, http.MethodGet, ts.URL+"/v0/masters?discipline=Calculus", nil, &page); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if page.TotalItems != 1 || len(page.Result) != 1 {
		t.Fatalf("page = %+v", page)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v0/masters/m-1", nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", res.StatusCode)
	}

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if code := doJSON(t, http.MethodGet, ts.URL+"/v0/masters/m-1", nil, &envelope); code != http.StatusNotFound {
		t.Fatalf("get after delete = %d", code)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("envelope = %+v", envelope)
	}
}

func TestUpsertMasterValidationEnvelope(t *testing.T) {
	ts := newTestServer(t)
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	code := doJSON(t, http.MethodPut, ts.URL+"/v0/masters", domain.Master{Discipline: "only"}, &envelope)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d", code)
	}
	if envelope.Error.Code != "validation_failed" {
		t.Fatalf("envelope = %+v", envelope)
	}
	if envelope.Error.Details["entity"] != "master" {
		t.Fatalf("details = %v", envelope.Error.Details)
	}
}

func TestListMastersBadSort(t *testing.T) {
	ts := newTestServer(t)
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	code := doJSON(t, http.MethodGet, ts.URL+"/v0/masters?sort_by=bogus", nil, &envelope)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d", code)
	}
	if envelope.Error.Code != "bad_request" {
		t.Fatalf("envelope = %+v", envelope)
	}
}

func TestListMastersBadMasterID(t *testing.T) {
	ts := newTestServer(t)
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	code := doJSON(t, http.MethodGet, ts.URL+"/v0/masters?master_id=notanumber", nil, &envelope)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d", code)
	}
}

func TestReconcileEndpoint(t *testing.T) {
	ts := newTestServer(t)

	planner := domain.Planner{
		UUID:    "pl-1",
		GroupID: "g-1",
		Name:    "Board",
		Buckets: []domain.Bucket{
			{UUID: "b-default", Name: "To do", IsDefault: true},
			{UUID: "b-solved", Name: "Solved", IsSolved: true},
			{UUID: "b-solved-lms", Name: "Solved LMS", IsSolvedLMS: true},
		},
	}
	if code := doJSON(t, http.MethodPut, ts.URL+"/v0/planners", planner, nil); code != http.StatusOK {
		t.Fatalf("put planner = %d", code)
	}

	start := serverNow.Add(-48 * time.Hour)
	master := domain.Master{
		UUID:       "m-1",
		Discipline: "Linear Algebra",
		Semester:   "2026.1",
		Contents: []domain.Content{
			{UUID: "c-1", ColumnName: "videoUrl", Title: "Lecture video", PlannerUUID: "pl-1", Status: domain.StatusMissing},
		},
		Projects: []domain.Project{{
			UUID: "p-1", Name: "run", Identifier: "LA-1", StatusColumn: "s", Module: "M",
			StartDate: &start,
			Agents:    []domain.Agent{{UUID: "ag-1", Alias: "ana", Name: "Ana", Email: "ana@example.com"}},
			Chats:     []domain.Chat{{UUID: "ch-1", Name: "LA chat"}},
		}},
	}
	if code := doJSON(t, http.MethodPut, ts.URL+"/v0/masters", master, nil); code != http.StatusOK {
		t.Fatalf("put master = %d", code)
	}

	var result engine.ReconcileResult
	if code := doJSON(t, http.MethodPost, ts.URL+"/v0/masters/m-1/reconcile", nil, &result); code != http.StatusOK {
		t.Fatalf("reconcile = %d", code)
	}
	if len(result.Master.Cards) != 1 {
		t.Fatalf("cards = %+v", result.Master.Cards)
	}
	if len(result.Notifications) != 2 {
		t.Fatalf("notifications = %+v", result.Notifications)
	}

	var items []repo.StoredNotification
	url := fmt.Sprintf("%s/v0/notifications?master_uuid=%s&undelivered=true", ts.URL, "m-1")
	if code := doJSON(t, http.MethodGet, url, nil, &items); code != http.StatusOK {
		t.Fatalf("list notifications = %d", code)
	}
	if len(items) != 2 {
		t.Fatalf("items = %+v", items)
	}
}
