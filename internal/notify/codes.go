package notify

// Code classifies a notification. The code stays attached to the notification
// even when an override message replaces the rendered text.
type Code string

const (
	CodeCardCreated        Code = "MASTER_CARD_CREATED"
	CodeCardUpdated        Code = "MASTER_CARD_UPDATED"
	CodeCardDeleted        Code = "MASTER_CARD_DELETED"
	CodeCardTitleUpdated   Code = "MASTER_CARD_TITLE_UPDATED"
	CodeItemAvailable      Code = "MASTER_CARD_CHECKLIST_ITEM_AVAILABLE"
	CodeItemAvailableDays  Code = "MASTER_CARD_CHECKLIST_ITEM_AVAILABLE_DAYS"
	CodeAggregated         Code = "MASTER_AGGREGATED"
)

// Template is a complete/reduced message pair with {PLACEHOLDER} tokens.
type Template struct {
	Complete string
	Reduced  string
}

// templates maps each renderable code to its message pair. Rendering a code
// with no entry is a configuration error.
var templates = map[Code]Template{
	CodeCardCreated: {
		Complete: "Hello {AGENTNAME}, a new card was created for the discipline {DISCIPLINE}. Please check its status on the planner.",
		Reduced:  "New card {CARDTITLE} created.",
	},
	CodeCardTitleUpdated: {
		Complete: "Hello {AGENTNAME}, the title of one of the cards changed to {CARDTITLE}. Please check the planner.",
		Reduced:  "Card title updated.",
	},
	CodeItemAvailable: {
		Complete: "Hello {AGENTNAME}, the card {CARDTITLE} changed. The item {CHECKITEM} is available. Please check the planner.",
		Reduced:  "The item {CHECKITEM} is available.",
	},
	CodeItemAvailableDays: {
		Complete: "Hello {AGENTNAME}, the card {CARDTITLE} changed. The item {CHECKITEM} has been available for {DAYS} day(s). Please check the planner.",
		Reduced:  "The item {CHECKITEM} has been available for {DAYS} day(s).",
	},
	CodeAggregated: {
		Complete: "{MESSAGE}",
		Reduced:  "{MESSAGE}",
	},
}
