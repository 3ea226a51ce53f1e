package reconcile_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"mastersync/internal/domain"
	"mastersync/internal/reconcile"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func testPlanner() domain.Planner {
	return domain.Planner{
		UUID:    "pl-1",
		GroupID: "g-1",
		Name:    "Board 2026.1",
		Buckets: []domain.Bucket{
			{UUID: "b-default", Name: "To do", IsDefault: true},
			{UUID: "b-solved", Name: "Solved", IsSolved: true},
			{UUID: "b-solved-lms", Name: "Solved LMS", IsSolvedLMS: true},
			{UUID: "b-video", Name: "Video"},
		},
	}
}

func testMaster(statuses ...domain.Status) domain.Master {
	m := domain.Master{
		UUID:       "m-1",
		Discipline: "Linear Algebra",
		Semester:   "2026.1",
	}
	for i, s := range statuses {
		m.Contents = append(m.Contents, domain.Content{
			UUID:        string(rune('a' + i)),
			ColumnName:  "col",
			Title:       "Item " + string(rune('A'+i)),
			PlannerUUID: "pl-1",
			Status:      s,
		})
	}
	return m
}

func run(t *testing.T, m domain.Master) domain.Master {
	t.Helper()
	out, err := reconcile.Cards(reconcile.Input{
		Master:   m,
		Planners: []domain.Planner{testPlanner()},
		Now:      testNow,
	})
	if err != nil {
		t.Fatalf("Cards: %v", err)
	}
	return out
}

func TestNewCardForPlanner(t *testing.T) {
	out := run(t, testMaster(domain.StatusMissing))
	if len(out.Cards) != 1 {
		t.Fatalf("want 1 card, got %d", len(out.Cards))
	}
	card := out.Cards[0]
	if !card.Create {
		t.Fatalf("fresh card must be flagged for creation")
	}
	if card.PlanID != "pl-1" {
		t.Fatalf("planId = %q", card.PlanID)
	}
	if card.CreatedDateTime == nil || !card.CreatedDateTime.Equal(testNow) {
		t.Fatalf("createdDateTime not stamped")
	}
	want := "[PENDING] [m-1] Linear Algebra"
	if card.Title != want {
		t.Fatalf("title = %q, want %q", card.Title, want)
	}
}

func TestTitlePrefixOverride(t *testing.T) {
	out, err := reconcile.Cards(reconcile.Input{
		Master:      testMaster(domain.StatusMissing),
		Planners:    []domain.Planner{testPlanner()},
		Now:         testNow,
		TitlePrefix: "[WIP]",
	})
	if err != nil {
		t.Fatalf("Cards: %v", err)
	}
	if !strings.HasPrefix(out.Cards[0].Title, "[WIP] ") {
		t.Fatalf("title = %q", out.Cards[0].Title)
	}
}

func TestBucketPlacement(t *testing.T) {
	t.Run("no missing goes to solved lms", func(t *testing.T) {
		out := run(t, testMaster(domain.StatusOK, domain.StatusNotApplicable))
		if got := out.Cards[0].BucketID; got != "b-solved-lms" {
			t.Fatalf("bucket = %q", got)
		}
	})
	t.Run("single missing with own bucket", func(t *testing.T) {
		m := testMaster(domain.StatusMissing, domain.StatusOK)
		m.Contents[0].BucketUUID = "b-video"
		out := run(t, m)
		if got := out.Cards[0].BucketID; got != "b-video" {
			t.Fatalf("bucket = %q", got)
		}
	})
	t.Run("single missing without own bucket stays default", func(t *testing.T) {
		out := run(t, testMaster(domain.StatusMissing, domain.StatusOK))
		if got := out.Cards[0].BucketID; got != "b-default" {
			t.Fatalf("bucket = %q", got)
		}
	})
	t.Run("several missing stay default", func(t *testing.T) {
		m := testMaster(domain.StatusMissing, domain.StatusMissing)
		m.Contents[0].BucketUUID = "b-video"
		out := run(t, m)
		if got := out.Cards[0].BucketID; got != "b-default" {
			t.Fatalf("bucket = %q", got)
		}
	})
}

func TestChecklistTracksMissingContents(t *testing.T) {
	out := run(t, testMaster(domain.StatusMissing, domain.StatusOK))
	list := out.Cards[0].Checklist
	if len(list) != 1 {
		t.Fatalf("want only the missing content listed, got %d items", len(list))
	}
	item := list[0]
	if item.ContentUUID != "a" || item.Value.IsChecked {
		t.Fatalf("unexpected item %+v", item)
	}
	if item.BucketID != "b-default" {
		t.Fatalf("item bucket = %q", item.BucketID)
	}
}

func TestChecklistItemResolvedWhenContentRecovers(t *testing.T) {
	m := testMaster(domain.StatusMissing)
	out := run(t, m)
	// Content turns OK between passes, the existing item flips to checked.
	out.Contents[0].Status = domain.StatusOK
	out = run(t, out)
	list := out.Cards[0].Checklist
	if len(list) != 1 {
		t.Fatalf("item must survive, got %d", len(list))
	}
	if !list[0].Value.IsChecked {
		t.Fatalf("recovered content must check its item")
	}
	if out.Cards[0].BucketID != "b-solved-lms" {
		t.Fatalf("clean card must reach solved lms, got %q", out.Cards[0].BucketID)
	}
}

func TestChecklistFailsOpenOnGoneContent(t *testing.T) {
	m := testMaster(domain.StatusMissing)
	out := run(t, m)
	// Content disappears entirely; the stale item resolves instead of blocking.
	out.Contents = []domain.Content{{
		UUID: "z", ColumnName: "col", Title: "Other", PlannerUUID: "pl-1", Status: domain.StatusOK,
	}}
	out = run(t, out)
	list := out.Cards[0].Checklist
	if len(list) != 1 {
		t.Fatalf("got %d items", len(list))
	}
	if !list[0].Value.IsChecked {
		t.Fatalf("gone content must check its item")
	}
	if !strings.HasSuffix(list[0].Value.Title, reconcile.NotFoundMarker) {
		t.Fatalf("title = %q, want not-found marker", list[0].Value.Title)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	first := run(t, testMaster(domain.StatusMissing, domain.StatusOK))
	if !first.Cards[0].Create {
		t.Fatalf("first pass must flag the card for creation")
	}
	// Second pass reuses the card even before the board assigns it an id.
	second := run(t, first)
	if len(second.Cards) != len(first.Cards) {
		t.Fatalf("card count changed: %d then %d", len(first.Cards), len(second.Cards))
	}
	a, b := first.Cards[0], second.Cards[0]
	if a.BucketID != b.BucketID || a.Title != b.Title || len(a.Checklist) != len(b.Checklist) {
		t.Fatalf("second pass changed the card: %+v vs %+v", a, b)
	}
	if b.Create {
		t.Fatalf("existing card must not be re-flagged for creation")
	}
}

func TestUnknownPlannerIsConfigError(t *testing.T) {
	m := testMaster(domain.StatusMissing)
	m.Cards = []domain.Card{{PlanID: "pl-ghost", Title: "stale"}}
	_, err := reconcile.Cards(reconcile.Input{
		Master:   m,
		Planners: []domain.Planner{testPlanner()},
		Now:      testNow,
	})
	var ce *reconcile.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("want *ConfigError, got %v", err)
	}
}

func TestMissingRoleBucketIsConfigError(t *testing.T) {
	p := testPlanner()
	p.Buckets = p.Buckets[:2] // no solved LMS bucket
	_, err := reconcile.Cards(reconcile.Input{
		Master:   testMaster(domain.StatusMissing),
		Planners: []domain.Planner{p},
		Now:      testNow,
	})
	if err == nil || !strings.Contains(err.Error(), "solved LMS") {
		t.Fatalf("want role bucket error, got %v", err)
	}
}

func TestDueDateFollowsEarliestStartedProject(t *testing.T) {
	early := testNow.Add(-72 * time.Hour)
	late := testNow.Add(-24 * time.Hour)
	future := testNow.Add(24 * time.Hour)
	m := testMaster(domain.StatusMissing)
	m.Projects = []domain.Project{
		{UUID: "p-late", Name: "late", Identifier: "L", StatusColumn: "s", Module: "M", StartDate: &late},
		{UUID: "p-early", Name: "early", Identifier: "E", StatusColumn: "s", Module: "M", StartDate: &early},
		{UUID: "p-future", Name: "future", Identifier: "F", StatusColumn: "s", Module: "M", StartDate: &future},
	}
	out := run(t, m)
	if !out.Cards[0].DueDateTime.Equal(early) {
		t.Fatalf("dueDateTime = %v, want earliest started %v", out.Cards[0].DueDateTime, early)
	}
}

func TestAssignmentsDeduplicated(t *testing.T) {
	start := testNow.Add(-time.Hour)
	m := testMaster(domain.StatusMissing)
	m.Projects = []domain.Project{{
		UUID: "p-1", Name: "run", Identifier: "R", StatusColumn: "s", Module: "M", StartDate: &start,
		Agents: []domain.Agent{
			{UUID: "ag-1", Alias: "ana", Name: "Ana", Email: "ana@example.com"},
		},
	}}
	agents := []domain.Agent{
		{UUID: "ag-1", Alias: "ana", Name: "Ana", Email: "ana@example.com", IncludeOnAllCardsPlanner: true},
		{UUID: "ag-2", Alias: "bo", Name: "Bo", Email: "bo@example.com", PlannersToInclude: []string{"pl-1"}},
		{UUID: "ag-3", Alias: "cy", Name: "Cy", Email: "cy@example.com", PlannersToInclude: []string{"pl-other"}},
	}
	out, err := reconcile.Cards(reconcile.Input{
		Master:   m,
		Planners: []domain.Planner{testPlanner()},
		Agents:   agents,
		Now:      testNow,
	})
	if err != nil {
		t.Fatalf("Cards: %v", err)
	}
	got := out.Cards[0].Assignments
	want := []string{"ag-1", "ag-2"}
	if len(got) != len(want) {
		t.Fatalf("assignments = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("assignments = %v, want %v", got, want)
		}
	}
}

func TestCategoriesUnionTags(t *testing.T) {
	start := testNow.Add(-time.Hour)
	m := testMaster(domain.StatusMissing)
	m.ProductionPublisher = &domain.Publisher{
		UUID: "pub-1", Name: "Pub",
		Tags: []domain.Tag{{UUID: "t-1", Name: "red", APIID: "category1"}},
	}
	m.Projects = []domain.Project{{
		UUID: "p-1", Name: "run", Identifier: "R", StatusColumn: "s", Module: "M", StartDate: &start,
		Tags: []domain.Tag{{UUID: "t-2", Name: "blue", APIID: "category2"}},
	}}
	out := run(t, m)
	applied := out.Cards[0].AppliedCategories
	if !applied["category1"] || !applied["category2"] || len(applied) != 2 {
		t.Fatalf("appliedCategories = %v", applied)
	}
}

func TestContentsWithoutPlannerIgnored(t *testing.T) {
	m := testMaster(domain.StatusMissing)
	m.Contents[0].PlannerUUID = ""
	out := run(t, m)
	if len(out.Cards) != 0 {
		t.Fatalf("untracked contents must produce no cards, got %d", len(out.Cards))
	}
}
