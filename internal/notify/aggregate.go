package notify

import (
	"strings"

	"mastersync/internal/domain"
)

// Aggregate folds a batch of notifications into one per recipient pair. Each
// aggregate carries the concatenated reduced forms of the originals, so a
// recipient gets a single digest instead of one message per change.
func Aggregate(notifications []Notification, discipline string) ([]Notification, error) {
	type group struct {
		agent    *domain.Agent
		chat     *domain.Chat
		messages []string
	}

	var order []string
	groups := map[string]*group{}
	for _, n := range notifications {
		rendered, err := n.Render()
		if err != nil {
			return nil, err
		}
		key := recipientKey(n.Agent, n.Chat)
		g, ok := groups[key]
		if !ok {
			g = &group{agent: n.Agent, chat: n.Chat}
			groups[key] = g
			order = append(order, key)
		}
		g.messages = append(g.messages, rendered.Messages.Reduced)
	}

	out := make([]Notification, 0, len(order))
	for _, key := range order {
		g := groups[key]
		n, err := New(CodeAggregated, g.agent, g.chat, map[string]string{
			"MESSAGE":    strings.Join(g.messages, " "),
			"DISCIPLINE": discipline,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func recipientKey(agent *domain.Agent, chat *domain.Chat) string {
	var a, c string
	if agent != nil {
		a = agent.UUID
	}
	if chat != nil {
		c = chat.UUID
	}
	return a + "|" + c
}
