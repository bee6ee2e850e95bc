package domain

// Turn roles as they appear in conversation memory.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of the conversation memory passed in by the agent layer.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
