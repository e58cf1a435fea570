package memory

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/becomeliminal/nim-companion/core"
)

// Coordinator is the memory façade used by agents and live sessions.
// It composes the short-term buffer, the vector index, the journal and the
// profile source.
//
// Every read degrades to an empty value on a fault, and writes to the journal
// and the index are independent best-effort sinks. A broken backend therefore
// shows up as "no memory", never as a failed request.
type Coordinator struct {
	index     VectorIndex
	journal   Journal
	profile   ProfileSource
	embedder  Embedder
	shortTerm *ShortTermBuffer
	logger    *log.Logger

	embedTimeout time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithProfile sets the source of facts, preferences, tasks and events.
func WithProfile(p ProfileSource) Option {
	return func(c *Coordinator) {
		c.profile = p
	}
}

// WithShortTerm replaces the short-term buffer.
func WithShortTerm(b *ShortTermBuffer) Option {
	return func(c *Coordinator) {
		c.shortTerm = b
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithEmbedTimeout bounds each embedding call made by Store.
func WithEmbedTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.embedTimeout = d
	}
}

// NewCoordinator creates a Coordinator. Any of index, journal and embedder
// may be nil; the matching feature is then skipped.
func NewCoordinator(index VectorIndex, journal Journal, embedder Embedder, opts ...Option) *Coordinator {
	c := &Coordinator{
		index:        index,
		journal:      journal,
		embedder:     embedder,
		embedTimeout: DefaultEmbedTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.shortTerm == nil {
		c.shortTerm = NewShortTermBuffer(DefaultShortTermTurns)
	}
	if c.logger == nil {
		c.logger = log.Default().WithPrefix("memory")
	}
	return c
}

// Retrieve returns memories for (userID, agentID). A non-empty query runs a
// semantic search; otherwise the most recent journal entries are returned.
func (c *Coordinator) Retrieve(ctx context.Context, userID, agentID, query string, limit int) []Entry {
	if limit <= 0 {
		return []Entry{}
	}

	if strings.TrimSpace(query) != "" {
		if c.index == nil {
			return []Entry{}
		}
		results := c.index.Search(ctx, query, userID, agentID, limit)
		entries := make([]Entry, 0, len(results))
		for _, r := range results {
			entries = append(entries, r.Entry)
		}
		c.logger.Debug("retrieved memories", "user", userID, "agent", agentID, "count", len(entries), "query", truncate(query, 50))
		return entries
	}

	if c.journal == nil {
		return []Entry{}
	}
	entries, err := c.journal.RecentMemories(ctx, userID, agentID, limit)
	if err != nil {
		c.logger.Error("recent memories failed", "user", userID, "agent", agentID, "err", err)
		return []Entry{}
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries
}

// Store summarizes an exchange, writes it to the journal and the index, and
// returns the summary. The summary is produced even if both writes fail.
func (c *Coordinator) Store(ctx context.Context, userID, agentID, userText, agentText string) string {
	summary := Summarize(agentID, userText)
	entry := NewEntry(userID, agentID, summary, map[string]any{
		"user_message":     head(userText, 100),
		"response_preview": head(agentText, 100),
	})
	entry.Tags = []string{"conversation", agentID}
	entry.Embedding = EmbedText(ctx, c.embedder, summary, c.embedTimeout, c.logger)

	if c.journal != nil {
		if err := c.journal.SaveMemory(ctx, entry); err != nil {
			c.logger.Error("journal write failed", "id", entry.ID, "err", err)
		}
	}
	if c.index != nil {
		if !c.index.Add(ctx, entry) {
			c.logger.Warn("vector index write skipped", "id", entry.ID)
		}
	}

	c.logger.Info("stored memory", "id", entry.ID, "user", userID, "agent", agentID)
	return summary
}

// ShortTerm renders the user's short-term context.
func (c *Coordinator) ShortTerm(userID string) string {
	return c.shortTerm.Context(userID)
}

// ShortTermHistory returns the user's live tail.
func (c *Coordinator) ShortTermHistory(userID string) []Message {
	return c.shortTerm.History(userID)
}

// AppendShortTerm records a turn in the user's short-term buffer.
func (c *Coordinator) AppendShortTerm(userID string, role core.Role, text string) {
	c.shortTerm.Append(userID, role, text)
}

// FullContext renders facts, preferences, medical data, pending tasks and
// upcoming events in that order. Empty or failing sections are left out.
func (c *Coordinator) FullContext(ctx context.Context, userID string) string {
	if c.profile == nil {
		return ""
	}

	var facts, prefs, medical, tasks, events string

	if v, err := c.profile.Facts(ctx, userID); err != nil {
		c.logger.Error("load facts failed", "user", userID, "err", err)
	} else {
		facts = renderFacts(v)
	}
	if v, err := c.profile.Preferences(ctx, userID); err != nil {
		c.logger.Error("load preferences failed", "user", userID, "err", err)
	} else {
		prefs = renderPreferences(v)
	}
	if v, err := c.profile.MedicalConditions(ctx, userID); err != nil {
		c.logger.Error("load medical profile failed", "user", userID, "err", err)
	} else {
		medical = renderMedical(v)
	}
	if v, err := c.profile.PendingTasks(ctx, userID, MaxContextTasks); err != nil {
		c.logger.Error("load tasks failed", "user", userID, "err", err)
	} else {
		tasks = renderTasks(v)
	}
	if v, err := c.profile.UpcomingEvents(ctx, userID, MaxContextEvents); err != nil {
		c.logger.Error("load events failed", "user", userID, "err", err)
	} else {
		events = renderEvents(v)
	}

	return joinSections(facts, prefs, medical, tasks, events)
}
