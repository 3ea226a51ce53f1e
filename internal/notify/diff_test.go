package notify_test

import (
	"strings"
	"testing"
	"time"

	"mastersync/internal/domain"
	"mastersync/internal/notify"
)

var diffNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// diffMaster builds a reconciled snapshot: one started project with one agent
// and one chat, one content and one card whose checklist tracks it.
func diffMaster() domain.Master {
	start := diffNow.Add(-48 * time.Hour)
	return domain.Master{
		UUID:       "m-1",
		Discipline: "Linear Algebra",
		Semester:   "2026.1",
		Contents: []domain.Content{
			{UUID: "c-1", ColumnName: "videoUrl", Title: "Lecture video", PlannerUUID: "pl-1", Status: domain.StatusMissing},
		},
		Projects: []domain.Project{{
			UUID: "p-1", Name: "run", Identifier: "R", StatusColumn: "s", Module: "M",
			StartDate: &start,
			Agents:    []domain.Agent{{UUID: "ag-1", Alias: "ana", Name: "Ana", Email: "ana@example.com"}},
			Chats:     []domain.Chat{{UUID: "ch-1", Name: "LA chat"}},
		}},
		Cards: []domain.Card{{
			PlanID: "pl-1",
			ID:     "card-1",
			Title:  "[PENDING] [m-1] Linear Algebra",
			Checklist: []domain.CheckItem{{
				ID:          "c-1",
				ContentUUID: "c-1",
				BucketID:    "b-default",
				Value:       domain.CheckValue{Title: "Lecture video", IsChecked: false},
			}},
		}},
	}
}

func codes(res notify.Result) []notify.Code {
	out := make([]notify.Code, 0, len(res.Notifications))
	for _, n := range res.Notifications {
		out = append(out, n.Code)
	}
	return out
}

func mustDiff(t *testing.T, old, current domain.Master) notify.Result {
	t.Helper()
	res, err := notify.Diff(old, current, diffNow, notify.DefaultPolicy())
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	return res
}

func TestDiffNewCard(t *testing.T) {
	current := diffMaster()
	current.Cards[0].ID = ""
	current.Cards[0].Create = true
	old := diffMaster()
	old.Cards = nil

	res := mustDiff(t, old, current)
	got := codes(res)
	// One recipient pair, so one card-created plus one first-day item notice.
	if len(got) != 2 || got[0] != notify.CodeCardCreated || got[1] != notify.CodeItemAvailable {
		t.Fatalf("codes = %v", got)
	}
}

func TestDiffUnacknowledgedCardNotReannounced(t *testing.T) {
	// The board has not assigned an id yet; the planner binding still
	// identifies the card across passes.
	old := diffMaster()
	old.Cards[0].ID = ""
	current := diffMaster()
	current.Cards[0].ID = ""

	res := mustDiff(t, old, current)
	got := codes(res)
	if len(got) != 1 || got[0] != notify.CodeItemAvailable {
		t.Fatalf("codes = %v", got)
	}
}

func TestDiffTitleChange(t *testing.T) {
	old := diffMaster()
	old.Cards[0].Checklist[0].Value.IsChecked = true
	current := diffMaster()
	current.Cards[0].Checklist[0].Value.IsChecked = true
	current.Cards[0].Title = "[PENDING] [m-1] Linear Algebra II"

	res := mustDiff(t, old, current)
	got := codes(res)
	if len(got) != 1 || got[0] != notify.CodeCardTitleUpdated {
		t.Fatalf("codes = %v", got)
	}
}

func TestDiffFirstNotificationStampsDates(t *testing.T) {
	res := mustDiff(t, diffMaster(), diffMaster())
	got := codes(res)
	if len(got) != 1 || got[0] != notify.CodeItemAvailable {
		t.Fatalf("codes = %v", got)
	}
	item := res.Master.Cards[0].Checklist[0]
	if item.FirstNotificationDate == nil || !item.FirstNotificationDate.Equal(diffNow) {
		t.Fatalf("firstNotificationDate not stamped: %+v", item)
	}
	if item.LastNotificationDate == nil || !item.LastNotificationDate.Equal(diffNow) {
		t.Fatalf("lastNotificationDate not stamped: %+v", item)
	}
}

func TestDiffRenotifyGateBlocks(t *testing.T) {
	current := diffMaster()
	first := diffNow.Add(-26 * time.Hour)
	last := diffNow.Add(-time.Hour)
	current.Cards[0].Checklist[0].FirstNotificationDate = &first
	current.Cards[0].Checklist[0].LastNotificationDate = &last

	res := mustDiff(t, diffMaster(), current)
	if len(res.Notifications) != 0 {
		t.Fatalf("gate must block, got %v", codes(res))
	}
	if !res.Master.Cards[0].Checklist[0].LastNotificationDate.Equal(last) {
		t.Fatalf("blocked item must keep its last notification date")
	}
}

func TestDiffListedDayRenotifies(t *testing.T) {
	current := diffMaster()
	first := diffNow.Add(-3 * 24 * time.Hour)
	last := diffNow.Add(-25 * time.Hour)
	current.Cards[0].Checklist[0].FirstNotificationDate = &first
	current.Cards[0].Checklist[0].LastNotificationDate = &last

	res := mustDiff(t, diffMaster(), current)
	got := codes(res)
	if len(got) != 1 || got[0] != notify.CodeItemAvailableDays {
		t.Fatalf("codes = %v", got)
	}
	r, err := res.Notifications[0].Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if want := "3 day(s)"; !strings.Contains(r.Messages.Reduced, want) {
		t.Fatalf("reduced = %q, want %q inside", r.Messages.Reduced, want)
	}
}

func TestDiffUnlistedDaySkipped(t *testing.T) {
	current := diffMaster()
	first := diffNow.Add(-2 * 24 * time.Hour)
	last := diffNow.Add(-25 * time.Hour)
	current.Cards[0].Checklist[0].FirstNotificationDate = &first
	current.Cards[0].Checklist[0].LastNotificationDate = &last

	res := mustDiff(t, diffMaster(), current)
	if len(res.Notifications) != 0 {
		t.Fatalf("day 2 is not listed, got %v", codes(res))
	}
}

func TestDiffOverflowPastMaxDayKeepsNotifying(t *testing.T) {
	current := diffMaster()
	first := diffNow.Add(-10 * 24 * time.Hour)
	last := diffNow.Add(-25 * time.Hour)
	current.Cards[0].Checklist[0].FirstNotificationDate = &first
	current.Cards[0].Checklist[0].LastNotificationDate = &last

	res := mustDiff(t, diffMaster(), current)
	got := codes(res)
	if len(got) != 1 || got[0] != notify.CodeItemAvailableDays {
		t.Fatalf("codes = %v", got)
	}
}

func TestDiffCheckedItemSilent(t *testing.T) {
	current := diffMaster()
	current.Cards[0].Checklist[0].Value.IsChecked = true
	res := mustDiff(t, diffMaster(), current)
	if len(res.Notifications) != 0 {
		t.Fatalf("checked item must not notify, got %v", codes(res))
	}
}

func TestDiffGoneContentSilent(t *testing.T) {
	current := diffMaster()
	current.Contents = nil
	res := mustDiff(t, diffMaster(), current)
	if len(res.Notifications) != 0 {
		t.Fatalf("item without backing content must not notify, got %v", codes(res))
	}
}

func TestDiffFanOutPerAgentChatPair(t *testing.T) {
	current := diffMaster()
	current.Projects[0].Agents = append(current.Projects[0].Agents,
		domain.Agent{UUID: "ag-2", Alias: "bo", Name: "Bo", Email: "bo@example.com"})
	res := mustDiff(t, diffMaster(), current)
	// 2 agents x 1 chat = 2 notifications for the single eligible item.
	if len(res.Notifications) != 2 {
		t.Fatalf("want 2 notifications, got %d", len(res.Notifications))
	}
	for _, n := range res.Notifications {
		if n.Agent == nil || n.Chat == nil {
			t.Fatalf("fan-out must pair agent and chat: %+v", n)
		}
	}
}

func TestDiffChatOnlyFallback(t *testing.T) {
	current := diffMaster()
	current.Projects[0].Agents = nil
	res := mustDiff(t, diffMaster(), current)
	if len(res.Notifications) != 1 {
		t.Fatalf("want 1 chat-only notification, got %d", len(res.Notifications))
	}
	if res.Notifications[0].Agent != nil || res.Notifications[0].Chat == nil {
		t.Fatalf("want chat-only recipient: %+v", res.Notifications[0])
	}
}

func TestDiffNoRecipientsNoStamps(t *testing.T) {
	current := diffMaster()
	current.Projects[0].Agents = nil
	current.Projects[0].Chats = nil
	res := mustDiff(t, diffMaster(), current)
	if len(res.Notifications) != 0 {
		t.Fatalf("no recipients must yield nothing, got %v", codes(res))
	}
	if res.Master.Cards[0].Checklist[0].FirstNotificationDate != nil {
		t.Fatalf("no delivery, no stamp")
	}
}

func TestDiffFutureProjectNotEligible(t *testing.T) {
	current := diffMaster()
	future := diffNow.Add(24 * time.Hour)
	current.Projects[0].StartDate = &future
	res := mustDiff(t, diffMaster(), current)
	if len(res.Notifications) != 0 {
		t.Fatalf("unstarted project must not notify, got %v", codes(res))
	}
}
