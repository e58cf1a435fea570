package core

// BaseInput provides common fields for all tool inputs.
// Tools embed this struct so models may explain why a tool was called.
type BaseInput struct {
	// Thought contains the agent's reasoning about why it's using this tool.
	// It is optional and only logged.
	Thought string `json:"thought,omitempty"`
}
