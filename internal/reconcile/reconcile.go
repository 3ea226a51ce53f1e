package reconcile

import (
	"fmt"
	"time"

	"mastersync/internal/domain"
)

// NotFoundMarker is appended to a checklist item whose backing content is
// gone. The item is forced to checked so a stale link never blocks the card
// from reaching a solved bucket.
const NotFoundMarker = " (item not found)"

// DefaultTitlePrefix labels every reconciled card on the external board.
const DefaultTitlePrefix = "[PENDING]"

// ConfigError reports bad reference data: a card bound to an unknown planner
// or a planner missing a required bucket role. These abort the whole
// reconciliation call and are never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return e.Reason }

// Input is everything one reconciliation pass needs. Cards computes a fresh
// master from it without touching shared state, so distinct masters may be
// reconciled concurrently.
type Input struct {
	Master   domain.Master
	Planners []domain.Planner
	Agents   []domain.Agent
	Now      time.Time

	// TitlePrefix overrides DefaultTitlePrefix when set.
	TitlePrefix string
}

// roleBuckets is the resolved bucket-role triple of one planner.
type roleBuckets struct {
	defaultID   string
	solvedID    string
	solvedLMSID string
}

// Cards recomputes every tracked card of the master: one card per planner
// referenced by the master's contents, with bucket placement, checklist,
// due date, categories and assignments derived from current state.
func Cards(in Input) (domain.Master, error) {
	master := in.Master
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	planners := make(map[string]domain.Planner, len(in.Planners))
	for _, p := range in.Planners {
		planners[p.UUID] = p
	}
	for _, card := range master.Cards {
		if _, ok := planners[card.PlanID]; !ok {
			return domain.Master{}, &ConfigError{Reason: fmt.Sprintf("card %s references unknown planner %s", card.ID, card.PlanID)}
		}
	}

	groups := groupByPlanner(master.Contents)
	cards := make([]domain.Card, 0, len(groups))
	for _, g := range groups {
		planner, ok := planners[g.plannerUUID]
		if !ok {
			return domain.Master{}, &ConfigError{Reason: fmt.Sprintf("contents reference unknown planner %s", g.plannerUUID)}
		}
		roles, err := resolveRoles(planner)
		if err != nil {
			return domain.Master{}, err
		}

		var card domain.Card
		if i := master.FindCardByPlan(g.plannerUUID); i >= 0 {
			card = master.Cards[i]
			// The card was already announced; only the first pass creates.
			card.Create = false
		} else {
			created := now
			card = domain.Card{
				PlanID:          g.plannerUUID,
				Create:          true,
				CreatedDateTime: &created,
			}
		}

		card.Checklist = upsertChecklist(card.Checklist, g.contents, roles.defaultID)
		card.BucketID = placeCard(g.contents, roles)
		card.DueDateTime = dueDate(master.Projects, now)
		card.AppliedCategories = categories(EligibleProject(master.Projects, now), master.ProductionPublisher)
		card.Assignments = assignments(master.Projects, in.Agents, planner.UUID, now)
		card.Title = cardTitle(in.TitlePrefix, master)
		stamp := now
		card.LastUpdate = &stamp

		cards = append(cards, card)
	}

	master.Cards = cards
	master.Status = domain.Derive(master.Contents)
	return master, nil
}

type plannerGroup struct {
	plannerUUID string
	contents    []domain.Content
}

// groupByPlanner buckets contents by plannerUuid, keeping first-seen planner
// order stable. Contents without a planner are not tracked on any board.
func groupByPlanner(contents []domain.Content) []plannerGroup {
	var order []string
	byPlanner := map[string][]domain.Content{}
	for _, c := range contents {
		if c.PlannerUUID == "" {
			continue
		}
		if _, seen := byPlanner[c.PlannerUUID]; !seen {
			order = append(order, c.PlannerUUID)
		}
		byPlanner[c.PlannerUUID] = append(byPlanner[c.PlannerUUID], c)
	}
	groups := make([]plannerGroup, 0, len(order))
	for _, id := range order {
		groups = append(groups, plannerGroup{plannerUUID: id, contents: byPlanner[id]})
	}
	return groups
}

// resolveRoles finds the planner's default, solved and solved-LMS buckets.
// Each role must be present exactly once.
func resolveRoles(p domain.Planner) (roleBuckets, error) {
	var roles roleBuckets
	var defaults, solved, solvedLMS int
	for _, b := range p.Buckets {
		if b.IsDefault {
			defaults++
			roles.defaultID = b.UUID
		}
		if b.IsSolved {
			solved++
			roles.solvedID = b.UUID
		}
		if b.IsSolvedLMS {
			solvedLMS++
			roles.solvedLMSID = b.UUID
		}
	}
	for _, role := range []struct {
		name  string
		count int
	}{
		{"default", defaults},
		{"solved", solved},
		{"solved LMS", solvedLMS},
	} {
		if role.count != 1 {
			return roleBuckets{}, &ConfigError{Reason: fmt.Sprintf("planner %s has %d %s buckets, want exactly 1", p.UUID, role.count, role.name)}
		}
	}
	return roles, nil
}

// upsertChecklist refreshes existing items from their backing contents and
// appends an unchecked item for every missing content not yet listed.
func upsertChecklist(existing []domain.CheckItem, contents []domain.Content, defaultBucketID string) []domain.CheckItem {
	byUUID := make(map[string]domain.Content, len(contents))
	for _, c := range contents {
		byUUID[c.UUID] = c
	}

	updated := make([]domain.CheckItem, 0, len(existing))
	listed := make(map[string]bool, len(existing))
	for _, item := range existing {
		content, ok := byUUID[item.ContentUUID]
		if !ok {
			// Fail open: the content is gone, resolve the item instead of
			// letting it hold the card back.
			item.Value.Title += NotFoundMarker
			item.Value.IsChecked = true
			updated = append(updated, item)
			continue
		}
		listed[content.UUID] = true
		item.ID = content.UUID
		item.ContentUUID = content.UUID
		item.BucketID = contentBucket(content, defaultBucketID)
		item.Value.Title = content.Title
		item.Value.IsChecked = content.Status != domain.StatusMissing
		updated = append(updated, item)
	}

	for _, c := range contents {
		if listed[c.UUID] || c.Status != domain.StatusMissing {
			continue
		}
		updated = append(updated, domain.CheckItem{
			ID:          c.UUID,
			ContentUUID: c.UUID,
			BucketID:    contentBucket(c, defaultBucketID),
			Value:       domain.CheckValue{Title: c.Title, IsChecked: false},
		})
	}
	return updated
}

func contentBucket(c domain.Content, defaultBucketID string) string {
	if c.BucketUUID != "" {
		return c.BucketUUID
	}
	return defaultBucketID
}

// placeCard picks the card's bucket from the planner's role flags: several
// missing contents keep the card in the default bucket, a single missing
// content with its own bucket pulls the card there, and a clean group sends
// the card to the solved LMS bucket.
func placeCard(contents []domain.Content, roles roleBuckets) string {
	var missing []domain.Content
	for _, c := range contents {
		if c.Status == domain.StatusMissing {
			missing = append(missing, c)
		}
	}
	switch {
	case len(missing) == 0:
		return roles.solvedLMSID
	case len(missing) == 1 && missing[0].BucketUUID != "":
		return missing[0].BucketUUID
	default:
		return roles.defaultID
	}
}

// EligibleProject returns the earliest-starting project already started by
// now, or nil when none has. Projects without a start date count as started.
func EligibleProject(projects []domain.Project, now time.Time) *domain.Project {
	var best *domain.Project
	for i := range projects {
		p := &projects[i]
		if !p.Started(now) {
			continue
		}
		if best == nil || effectiveStart(*p, now).Before(effectiveStart(*best, now)) {
			best = p
		}
	}
	return best
}

func effectiveStart(p domain.Project, now time.Time) time.Time {
	if p.StartDate != nil {
		return *p.StartDate
	}
	return now
}

// dueDate is the start date of the selected project, falling back to now.
func dueDate(projects []domain.Project, now time.Time) time.Time {
	p := EligibleProject(projects, now)
	if p == nil || p.StartDate == nil {
		return now
	}
	return *p.StartDate
}

// categories unions the tag api ids of the selected project and the
// production publisher. Nil when the union is empty so the field is omitted
// on the wire.
func categories(project *domain.Project, publisher *domain.Publisher) map[string]bool {
	applied := map[string]bool{}
	if project != nil {
		for _, t := range project.Tags {
			applied[t.APIID] = true
		}
	}
	if publisher != nil {
		for _, t := range publisher.Tags {
			applied[t.APIID] = true
		}
	}
	if len(applied) == 0 {
		return nil
	}
	return applied
}

// assignments unions the agents of started projects, agents flagged for every
// planner, and agents whitelisting this planner. Order follows the sources,
// duplicates are dropped.
func assignments(projects []domain.Project, agents []domain.Agent, plannerUUID string, now time.Time) []string {
	var out []string
	seen := map[string]bool{}
	push := func(uuid string) {
		if uuid == "" || seen[uuid] {
			return
		}
		seen[uuid] = true
		out = append(out, uuid)
	}
	for _, p := range projects {
		if !p.Started(now) {
			continue
		}
		for _, a := range p.Agents {
			push(a.UUID)
		}
	}
	for _, a := range agents {
		if a.IncludeOnAllCardsPlanner {
			push(a.UUID)
		}
	}
	for _, a := range agents {
		for _, uuid := range a.PlannersToInclude {
			if uuid == plannerUUID {
				push(a.UUID)
			}
		}
	}
	return out
}

// cardTitle is the stable identifier agents recognize on the external board.
func cardTitle(prefix string, m domain.Master) string {
	if prefix == "" {
		prefix = DefaultTitlePrefix
	}
	return fmt.Sprintf("%s [%s] %s", prefix, m.UUID, m.Discipline)
}
