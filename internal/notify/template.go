package notify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"mastersync/internal/domain"
)

// ErrNoRecipient is returned when a notification names neither an agent nor a
// chat.
var ErrNoRecipient = errors.New("notification requires an agent or a chat")

// TemplateError reports a message code with no registered template. This is a
// misconfiguration, not a transient failure.
type TemplateError struct {
	Code Code
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("no message template registered for code %s", e.Code)
}

// Notification is a single message to one recipient. It is a value the core
// produces; delivery is the caller's concern.
type Notification struct {
	UUID      string            `json:"uuid"`
	Code      Code              `json:"-"`
	Agent     *domain.Agent     `json:"agent,omitempty"`
	Chat      *domain.Chat      `json:"chat,omitempty"`
	Message   string            `json:"-"`
	Variables map[string]string `json:"-"`
}

// Messages is the rendered pair of textual forms.
type Messages struct {
	Complete string `json:"complete"`
	Reduced  string `json:"reduced"`
}

// Rendered is the serialization shape of a notification.
type Rendered struct {
	UUID     string        `json:"uuid"`
	Code     Code          `json:"code"`
	Agent    *domain.Agent `json:"agent,omitempty"`
	Chat     *domain.Chat  `json:"chat,omitempty"`
	Messages Messages      `json:"messages"`
}

// New builds a notification for at least one recipient.
func New(code Code, agent *domain.Agent, chat *domain.Chat, variables map[string]string) (Notification, error) {
	if agent == nil && chat == nil {
		return Notification{}, ErrNoRecipient
	}
	return Notification{
		UUID:      uuid.NewString(),
		Code:      code,
		Agent:     agent,
		Chat:      chat,
		Variables: variables,
	}, nil
}

// Render substitutes the notification's variables into its code's template
// pair. Recipient names are always available as AGENTNAME and CHATNAME. An
// explicit override message replaces both rendered forms while the code keeps
// classifying the notification.
func (n Notification) Render() (Rendered, error) {
	tpl, ok := templates[n.Code]
	if !ok {
		return Rendered{}, &TemplateError{Code: n.Code}
	}
	if n.Message != "" {
		return Rendered{
			UUID:     n.UUID,
			Code:     n.Code,
			Agent:    n.Agent,
			Chat:     n.Chat,
			Messages: Messages{Complete: n.Message, Reduced: n.Message},
		}, nil
	}
	vars := make(map[string]string, len(n.Variables)+2)
	for k, v := range n.Variables {
		vars[k] = v
	}
	// Both recipient names are always substituted; a missing recipient
	// renders as N/A rather than leaving the placeholder behind.
	vars["AGENTNAME"] = ""
	vars["CHATNAME"] = ""
	if n.Agent != nil {
		vars["AGENTNAME"] = n.Agent.Name
	}
	if n.Chat != nil {
		vars["CHATNAME"] = n.Chat.Name
	}
	return Rendered{
		UUID:  n.UUID,
		Code:  n.Code,
		Agent: n.Agent,
		Chat:  n.Chat,
		Messages: Messages{
			Complete: inject(tpl.Complete, vars),
			Reduced:  inject(tpl.Reduced, vars),
		},
	}, nil
}

// inject replaces each supplied {KEY} placeholder, falling back to "N/A" for
// empty values. Placeholders with no supplied variable are left untouched.
func inject(message string, vars map[string]string) string {
	for key, value := range vars {
		if value == "" {
			value = "N/A"
		}
		message = strings.ReplaceAll(message, "{"+key+"}", value)
	}
	return message
}
