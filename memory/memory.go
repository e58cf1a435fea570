package memory

import (
	"context"
)

// VectorIndex is a keyed store of embedded entries supporting similarity
// search scoped to a (user, agent) pair.
//
// Implementations: LinearIndex (in process), chromem.Index, postgres.Store.
type VectorIndex interface {
	// Add upserts the entry by ID. It returns false when the entry has no
	// embedding or could not be written; it never fails loudly.
	Add(ctx context.Context, entry Entry) bool

	// Search embeds query and returns the entries for (userID, agentID)
	// ordered by descending cosine similarity, truncated to limit.
	// Equal scores keep insertion order. An empty result is normal.
	Search(ctx context.Context, query, userID, agentID string, limit int) []SearchResult
}

// SearchResult is an Entry annotated with its similarity to the query.
type SearchResult struct {
	Entry
	Score float32
}

// Journal is the durable audit log of memory entries.
type Journal interface {
	// SaveMemory persists an entry. Entries are never updated in place.
	SaveMemory(ctx context.Context, entry Entry) error

	// RecentMemories returns up to limit entries for (userID, agentID),
	// newest first.
	RecentMemories(ctx context.Context, userID, agentID string, limit int) ([]Entry, error)
}

// ProfileSource exposes the declarative user data rendered by
// Coordinator.FullContext.
type ProfileSource interface {
	Facts(ctx context.Context, userID string) ([]Fact, error)
	Preferences(ctx context.Context, userID string) ([]Preference, error)
	MedicalConditions(ctx context.Context, userID string) ([]MedicalCondition, error)
	PendingTasks(ctx context.Context, userID string, limit int) ([]Task, error)
	UpcomingEvents(ctx context.Context, userID string, limit int) ([]Event, error)
}

// Embedder converts text to vector embeddings.
// Implementations: genai.Embedder (production), onnx.Embedder (local),
// mock.MockEmbedder (testing), cache.Embedder (wrapper).
//
// An error or an empty vector both mean "no vector"; callers degrade
// rather than fail.
type Embedder interface {
	// Embed converts a single text to embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns embedding vector size.
	Dimensions() int
}
