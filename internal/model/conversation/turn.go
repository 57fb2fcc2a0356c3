package conversation

// Role identifies the author of a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Intent classifies what follow-up handling a completed turn requires.
type Intent string

const (
	// IntentContinue means the reply needs no further handling.
	IntentContinue Intent = "continue"
	// IntentActionRequired means the reply embeds an action marker.
	IntentActionRequired Intent = "action_required"
	// IntentError means the decision engine degraded the turn.
	IntentError Intent = "error"
)

// HistoryEntry is one utterance in a session transcript. Entries are
// append-only and chronological; they are never edited in place.
type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Turn is one completed user/assistant exchange.
type Turn struct {
	UserText      string `json:"userText"`
	AssistantText string `json:"assistantText"`
	Intent        Intent `json:"intent"`
}
