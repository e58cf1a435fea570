package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entry is a long-term memory: a summary of one exchange between a user and
// an agent. Entries are immutable once written; a correction is a new entry.
type Entry struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	AgentID   string         `json:"agent_id"`
	Summary   string         `json:"summary"`
	Embedding []float32      `json:"embedding,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewEntry creates an Entry with a fresh id of the form
// mem_{agent}_{user}_{8 hex chars}.
func NewEntry(userID, agentID, summary string, metadata map[string]any) Entry {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return Entry{
		ID:        NewEntryID(userID, agentID),
		UserID:    userID,
		AgentID:   agentID,
		Summary:   summary,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
}

// NewEntryID returns a new memory id scoped to the agent and user.
func NewEntryID(userID, agentID string) string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("mem_%s_%s_%s", agentID, userID, hex[:8])
}

// Format renders the entry for prompt injection within maxLen characters.
func (e Entry) Format(maxLen int) string {
	line := e.Summary
	if !e.CreatedAt.IsZero() {
		line = fmt.Sprintf("%s (from %s)", e.Summary, e.CreatedAt.Format("2006-01-02 15:04"))
	}
	if maxLen > 0 {
		line = truncate(line, maxLen)
	}
	return line
}

// Summarize builds the bounded summary stored for an exchange. The source text
// is truncated, not compressed, so the result is never empty.
func Summarize(agentID, userText string) string {
	return fmt.Sprintf("User asked about %s... Agent (%s) responded with guidance.", head(userText, 50), agentID)
}

// head returns at most n runes of s.
func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return "..."
	}
	return string(r[:maxLen-3]) + "..."
}
