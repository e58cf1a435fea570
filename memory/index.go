package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// LinearIndex is an in-process VectorIndex that scores every stored vector on
// each search. It is suitable for thousands of entries per user.
type LinearIndex struct {
	mu       sync.RWMutex
	embedder Embedder
	entries  []Entry
	pos      map[string]int
	logger   *log.Logger
	timeout  time.Duration
}

// NewLinearIndex creates an empty index that embeds queries with embedder.
func NewLinearIndex(embedder Embedder, logger *log.Logger) *LinearIndex {
	if logger == nil {
		logger = log.Default().WithPrefix("index")
	}
	return &LinearIndex{
		embedder: embedder,
		pos:      make(map[string]int),
		logger:   logger,
		timeout:  DefaultEmbedTimeout,
	}
}

// Add upserts entry by id. A replaced entry keeps its original position.
func (x *LinearIndex) Add(ctx context.Context, entry Entry) bool {
	if len(entry.Embedding) == 0 {
		x.logger.Warn("skipping entry without embedding", "id", entry.ID)
		return false
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if i, ok := x.pos[entry.ID]; ok {
		x.entries[i] = entry
		return true
	}
	x.pos[entry.ID] = len(x.entries)
	x.entries = append(x.entries, entry)
	return true
}

// Search implements VectorIndex.
func (x *LinearIndex) Search(ctx context.Context, query, userID, agentID string, limit int) []SearchResult {
	if limit <= 0 {
		return []SearchResult{}
	}
	vec := EmbedText(ctx, x.embedder, query, x.timeout, x.logger)
	if len(vec) == 0 {
		return []SearchResult{}
	}

	x.mu.RLock()
	candidates := make([]SearchResult, 0, len(x.entries))
	for _, e := range x.entries {
		if e.UserID != userID || e.AgentID != agentID {
			continue
		}
		candidates = append(candidates, SearchResult{Entry: e, Score: Cosine(vec, e.Embedding)})
	}
	x.mu.RUnlock()

	return Rank(candidates, limit)
}

// Len returns the number of stored entries.
func (x *LinearIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Rank sorts results by descending score, keeping the given order for equal
// scores, and truncates to limit. Callers pass results in insertion order.
func Rank(results []SearchResult, limit int) []SearchResult {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit >= 0 && len(results) > limit {
		results = results[:limit]
	}
	if results == nil {
		return []SearchResult{}
	}
	return results
}

// Cosine returns the cosine similarity of a and b, or 0 when the lengths
// differ or either vector has zero magnitude.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
