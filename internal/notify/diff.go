package notify

import (
	"strconv"
	"time"

	"mastersync/internal/domain"
	"mastersync/internal/reconcile"
)

// Policy is the day-based re-notification window for unresolved checklist
// items. An item is re-notified on each listed day since its first
// notification, and on every cycle past the last one, gated so no item is
// notified twice within RenotifyGate.
type Policy struct {
	NotifyDays   []int
	RenotifyGate time.Duration
}

// DefaultPolicy notifies on days 0, 1, 3 and 5 and then keeps escalating,
// never more than once per 24 hours.
func DefaultPolicy() Policy {
	return Policy{
		NotifyDays:   []int{0, 1, 3, 5},
		RenotifyGate: 24 * time.Hour,
	}
}

func (p Policy) maxDay() int {
	max := 0
	for _, d := range p.NotifyDays {
		if d > max {
			max = d
		}
	}
	return max
}

func (p Policy) dayListed(day int) bool {
	for _, d := range p.NotifyDays {
		if d == day {
			return true
		}
	}
	return false
}

// Result carries the notifications of one diff pass together with the master
// snapshot whose checklist notification dates were stamped by it.
type Result struct {
	Master        domain.Master
	Notifications []Notification
}

// Diff compares the previously persisted master against the freshly
// reconciled one and produces the minimal de-duplicated notification set:
// newly created cards, title changes, and throttled checklist reminders.
// Notifications fan out per (agent, chat) of the earliest-eligible project.
func Diff(old, current domain.Master, now time.Time, policy Policy) (Result, error) {
	res := Result{Master: current}

	project := reconcile.EligibleProject(current.Projects, now)
	recipients := fanOut(project)
	if len(recipients) == 0 {
		return res, nil
	}

	emit := func(code Code, vars map[string]string) error {
		for _, r := range recipients {
			n, err := New(code, r.agent, r.chat, vars)
			if err != nil {
				return err
			}
			res.Notifications = append(res.Notifications, n)
		}
		return nil
	}

	for _, card := range res.Master.Cards {
		oldCard := previousCard(old, card)
		if card.Create || oldCard == nil {
			if err := emit(CodeCardCreated, map[string]string{
				"DISCIPLINE": current.Discipline,
				"CARDTITLE":  card.Title,
			}); err != nil {
				return Result{}, err
			}
			continue
		}
		if oldCard.Title != card.Title {
			if err := emit(CodeCardTitleUpdated, map[string]string{
				"CARDTITLE": card.Title,
			}); err != nil {
				return Result{}, err
			}
		}
	}

	for ci := range res.Master.Cards {
		card := &res.Master.Cards[ci]
		for ii := range card.Checklist {
			item := &card.Checklist[ii]
			if item.Value.IsChecked {
				continue
			}
			// Items whose content is gone carry no actionable signal.
			if res.Master.FindContent(item.ContentUUID) == nil {
				continue
			}
			days, ok := throttle(item, now, policy)
			if !ok {
				continue
			}
			code := CodeItemAvailableDays
			vars := map[string]string{
				"CHECKITEM": item.Value.Title,
				"CARDTITLE": card.Title,
				"DAYS":      strconv.Itoa(days),
			}
			if days == 0 {
				code = CodeItemAvailable
				delete(vars, "DAYS")
			}
			if err := emit(code, vars); err != nil {
				return Result{}, err
			}
			stamp(item, now)
		}
	}

	return res, nil
}

// previousCard resolves the old snapshot's counterpart of a card. Cards not
// yet acknowledged by the board carry no id, so the planner binding is the
// fallback identity; a card with neither match is new.
func previousCard(old domain.Master, card domain.Card) *domain.Card {
	if card.ID != "" {
		if c := old.FindCardByID(card.ID); c != nil {
			return c
		}
	}
	if i := old.FindCardByPlan(card.PlanID); i >= 0 {
		return &old.Cards[i]
	}
	return nil
}

// throttle reports whether the item qualifies for a notification now and, if
// so, how many whole days have passed since it was first notified.
func throttle(item *domain.CheckItem, now time.Time, policy Policy) (int, bool) {
	days := 0
	if item.FirstNotificationDate != nil {
		days = int(now.Sub(*item.FirstNotificationDate).Hours() / 24)
	}
	if item.LastNotificationDate != nil && now.Sub(*item.LastNotificationDate) <= policy.RenotifyGate {
		return 0, false
	}
	if !policy.dayListed(days) && days <= policy.maxDay() {
		return 0, false
	}
	return days, true
}

func stamp(item *domain.CheckItem, now time.Time) {
	if item.FirstNotificationDate == nil {
		first := now
		item.FirstNotificationDate = &first
	}
	last := now
	item.LastNotificationDate = &last
}

type recipient struct {
	agent *domain.Agent
	chat  *domain.Chat
}

// fanOut expands the responsible project into (agent, chat) pairs. A project
// with chats but no agents still notifies per chat; agents without chats get
// agent-only notifications; no project or an empty one yields nothing.
func fanOut(project *domain.Project) []recipient {
	if project == nil {
		return nil
	}
	var out []recipient
	switch {
	case len(project.Agents) > 0 && len(project.Chats) > 0:
		for i := range project.Agents {
			for j := range project.Chats {
				out = append(out, recipient{agent: &project.Agents[i], chat: &project.Chats[j]})
			}
		}
	case len(project.Agents) > 0:
		for i := range project.Agents {
			out = append(out, recipient{agent: &project.Agents[i]})
		}
	case len(project.Chats) > 0:
		for j := range project.Chats {
			out = append(out, recipient{chat: &project.Chats[j]})
		}
	}
	return out
}
