package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/becomeliminal/nim-companion/core"
)

// DefaultShortTermTurns is the live-tail capacity of a ShortTermBuffer.
const DefaultShortTermTurns = 20

// Message is one turn held in a ShortTermBuffer.
type Message struct {
	Role      core.Role `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ShortTermBuffer keeps the recent turns of each user in memory.
//
// Each user's live tail holds at most maxTurns messages. When an append pushes
// it past that, the oldest half is rendered into a fragment appended to the
// user's summary and dropped from the tail. The summary only ever grows.
type ShortTermBuffer struct {
	mu       sync.Mutex
	maxTurns int
	users    map[string]*userBuffer
}

type userBuffer struct {
	messages []Message
	summary  string
}

// NewShortTermBuffer creates a buffer with the given live-tail capacity.
// Values below 1 fall back to DefaultShortTermTurns.
func NewShortTermBuffer(maxTurns int) *ShortTermBuffer {
	if maxTurns < 1 {
		maxTurns = DefaultShortTermTurns
	}
	return &ShortTermBuffer{
		maxTurns: maxTurns,
		users:    make(map[string]*userBuffer),
	}
}

// MaxTurns returns the live-tail capacity.
func (b *ShortTermBuffer) MaxTurns() int {
	return b.maxTurns
}

// Append adds a message to the user's live tail, summarizing on overflow.
func (b *ShortTermBuffer) Append(userID string, role core.Role, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ub, ok := b.users[userID]
	if !ok {
		ub = &userBuffer{}
		b.users[userID] = ub
	}
	ub.messages = append(ub.messages, Message{Role: role, Content: text, Timestamp: time.Now().UTC()})

	if len(ub.messages) <= b.maxTurns {
		return
	}

	n := b.maxTurns / 2
	if n < 1 {
		n = 1
	}
	fragment := summarizeMessages(ub.messages[:n])
	if ub.summary == "" {
		ub.summary = fragment
	} else {
		ub.summary += "\n" + fragment
	}
	ub.messages = append([]Message(nil), ub.messages[n:]...)
}

// History returns a snapshot of the user's live tail.
func (b *ShortTermBuffer) History(userID string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	ub, ok := b.users[userID]
	if !ok {
		return []Message{}
	}
	return append([]Message(nil), ub.messages...)
}

// Summary returns the accumulated summary for the user.
func (b *ShortTermBuffer) Summary(userID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ub, ok := b.users[userID]; ok {
		return ub.summary
	}
	return ""
}

// Context renders the summary followed by the live tail. It returns an empty
// string when the user has no history.
func (b *ShortTermBuffer) Context(userID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ub, ok := b.users[userID]
	if !ok || (ub.summary == "" && len(ub.messages) == 0) {
		return ""
	}

	var sb strings.Builder
	if ub.summary != "" {
		sb.WriteString("Summary of earlier conversation:\n")
		sb.WriteString(ub.summary)
		if len(ub.messages) > 0 {
			sb.WriteString("\n\n")
		}
	}
	for i, m := range ub.messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s: %s", m.Role, m.Content)
	}
	return sb.String()
}

// summarizeMessages renders messages as a compact fragment.
func summarizeMessages(msgs []Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf("- %s: %s", m.Role, truncate(m.Content, 120)))
	}
	return strings.Join(lines, "\n")
}
