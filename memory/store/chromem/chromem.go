package chromem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/nim-companion/memory"
)

var errNoEmbedding = errors.New("documents must carry their own embedding")

// journalVector is the constant embedding of journal documents. Journal
// collections are only ever listed, never ranked.
var journalVector = []float32{1}

// Index is a memory.VectorIndex and memory.Journal backed by chromem-go, an
// embedded vector database. Each user gets a vector collection and a journal
// collection; the agent is a metadata filter. The journal keeps entries whose
// embedding failed, so recency recall survives a restart.
type Index struct {
	db          *chromem.DB
	embedder    memory.Embedder
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
	logger      *log.Logger

	seqMu   sync.Mutex
	lastSeq int64
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(x *Index) {
		x.logger = l
	}
}

// New creates an in-memory index.
func New(embedder memory.Embedder, opts ...Option) *Index {
	return newIndex(chromem.NewDB(), embedder, opts)
}

// NewPersistent opens (or creates) an index persisted under path.
func NewPersistent(path string, compress bool, embedder memory.Embedder, opts ...Option) (*Index, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}
	return newIndex(db, embedder, opts), nil
}

func newIndex(db *chromem.DB, embedder memory.Embedder, opts []Option) *Index {
	x := &Index{
		db:          db,
		embedder:    embedder,
		collections: make(map[string]*chromem.Collection),
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.logger == nil {
		x.logger = log.Default().WithPrefix("chromem")
	}
	return x
}

func collectionName(userID string) string {
	return "user_" + userID
}

func journalName(userID string) string {
	return "journal_" + userID
}

// collection returns the user's vector collection, creating it when create
// is set.
func (x *Index) collection(userID string, create bool) (*chromem.Collection, error) {
	return x.open(collectionName(userID), create)
}

// open returns the named collection, creating it when create is set. A
// missing collection is returned as nil without error.
func (x *Index) open(name string, create bool) (*chromem.Collection, error) {
	x.mu.RLock()
	col, ok := x.collections[name]
	x.mu.RUnlock()
	if ok {
		return col, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	// Double-check after acquiring write lock
	if col, ok := x.collections[name]; ok {
		return col, nil
	}

	noEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, errNoEmbedding
	}
	if !create {
		col = x.db.GetCollection(name, noEmbed)
		if col == nil {
			return nil, nil
		}
	} else {
		var err error
		col, err = x.db.GetOrCreateCollection(name, nil, noEmbed)
		if err != nil {
			return nil, fmt.Errorf("create collection: %w", err)
		}
	}
	x.collections[name] = col
	return col, nil
}

// nextSeq returns a strictly increasing sequence number that also orders
// documents written before a restart.
func (x *Index) nextSeq() int64 {
	x.seqMu.Lock()
	defer x.seqMu.Unlock()
	seq := time.Now().UnixNano()
	if seq <= x.lastSeq {
		seq = x.lastSeq + 1
	}
	x.lastSeq = seq
	return seq
}

// seqFor returns the sequence of an existing document so an upsert keeps its
// place in the tie order, or a new one.
func (x *Index) seqFor(ctx context.Context, col *chromem.Collection, id string) int64 {
	if doc, err := col.GetByID(ctx, id); err == nil {
		if seq, err := strconv.ParseInt(doc.Metadata["seq"], 10, 64); err == nil {
			return seq
		}
	}
	return x.nextSeq()
}

// Add implements memory.VectorIndex.
func (x *Index) Add(ctx context.Context, entry memory.Entry) bool {
	if len(entry.Embedding) == 0 {
		x.logger.Warn("skipping entry without embedding", "id", entry.ID)
		return false
	}

	col, err := x.collection(entry.UserID, true)
	if err != nil {
		x.logger.Error("open collection failed", "user", entry.UserID, "err", err)
		return false
	}

	meta, err := encodeMetadata(entry, x.seqFor(ctx, col, entry.ID))
	if err != nil {
		x.logger.Error("encode metadata failed", "id", entry.ID, "err", err)
		return false
	}

	err = col.AddDocument(ctx, chromem.Document{
		ID:        entry.ID,
		Content:   entry.Summary,
		Embedding: entry.Embedding,
		Metadata:  meta,
	})
	if err != nil {
		x.logger.Error("add document failed", "id", entry.ID, "err", err)
		return false
	}
	x.logger.Debug("stored document", "id", entry.ID, "user", entry.UserID, "agent", entry.AgentID)
	return true
}

// Search implements memory.VectorIndex. chromem returns results by
// similarity only, so they are re-sorted with the insertion sequence to keep
// ties stable.
func (x *Index) Search(ctx context.Context, query, userID, agentID string, limit int) []memory.SearchResult {
	if limit <= 0 {
		return []memory.SearchResult{}
	}
	vec := memory.EmbedText(ctx, x.embedder, query, memory.DefaultEmbedTimeout, x.logger)
	if len(vec) == 0 {
		return []memory.SearchResult{}
	}

	col, err := x.collection(userID, false)
	if err != nil || col == nil {
		return []memory.SearchResult{}
	}
	n := col.Count()
	if n == 0 {
		return []memory.SearchResult{}
	}

	results, err := col.QueryEmbedding(ctx, vec, n, map[string]string{"agent_id": agentID}, nil)
	if err != nil {
		x.logger.Error("query failed", "user", userID, "agent", agentID, "err", err)
		return []memory.SearchResult{}
	}

	type ranked struct {
		memory.SearchResult
		seq int64
	}
	items := make([]ranked, 0, len(results))
	for _, r := range results {
		entry, seq := decodeResult(r)
		items = append(items, ranked{memory.SearchResult{Entry: entry, Score: r.Similarity}, seq})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].seq < items[j].seq })

	out := make([]memory.SearchResult, len(items))
	for i, it := range items {
		out[i] = it.SearchResult
	}
	return memory.Rank(out, limit)
}

// SaveMemory implements memory.Journal.
func (x *Index) SaveMemory(ctx context.Context, entry memory.Entry) error {
	col, err := x.open(journalName(entry.UserID), true)
	if err != nil {
		return err
	}
	meta, err := encodeMetadata(entry, x.seqFor(ctx, col, entry.ID))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	err = col.AddDocument(ctx, chromem.Document{
		ID:        entry.ID,
		Content:   entry.Summary,
		Embedding: journalVector,
		Metadata:  meta,
	})
	if err != nil {
		return fmt.Errorf("save journal entry: %w", err)
	}
	return nil
}

// RecentMemories implements memory.Journal. Entries come back newest first;
// equal timestamps fall back to the write sequence.
func (x *Index) RecentMemories(ctx context.Context, userID, agentID string, limit int) ([]memory.Entry, error) {
	if limit == 0 {
		return []memory.Entry{}, nil
	}
	col, err := x.open(journalName(userID), false)
	if err != nil {
		return nil, err
	}
	if col == nil || col.Count() == 0 {
		return []memory.Entry{}, nil
	}

	results, err := col.QueryEmbedding(ctx, journalVector, col.Count(), map[string]string{"agent_id": agentID}, nil)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}

	type dated struct {
		entry memory.Entry
		seq   int64
	}
	items := make([]dated, 0, len(results))
	for _, r := range results {
		e, seq := decodeResult(r)
		e.Embedding = nil
		items = append(items, dated{e, seq})
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].entry.CreatedAt.Equal(items[j].entry.CreatedAt) {
			return items[i].entry.CreatedAt.After(items[j].entry.CreatedAt)
		}
		return items[i].seq > items[j].seq
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	out := make([]memory.Entry, len(items))
	for i, it := range items {
		out[i] = it.entry
	}
	return out, nil
}

// Count returns the number of documents stored for a user.
func (x *Index) Count(userID string) int {
	col, err := x.collection(userID, false)
	if err != nil || col == nil {
		return 0
	}
	return col.Count()
}

func encodeMetadata(e memory.Entry, seq int64) (map[string]string, error) {
	meta := map[string]string{
		"user_id":    e.UserID,
		"agent_id":   e.AgentID,
		"created_at": e.CreatedAt.Format(time.RFC3339Nano),
		"seq":        strconv.FormatInt(seq, 10),
		"tags":       strings.Join(e.Tags, ","),
	}
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, err
		}
		meta["metadata"] = string(b)
	}
	return meta, nil
}

func decodeResult(r chromem.Result) (memory.Entry, int64) {
	createdAt, _ := time.Parse(time.RFC3339Nano, r.Metadata["created_at"])
	seq, _ := strconv.ParseInt(r.Metadata["seq"], 10, 64)

	var metadata map[string]any
	if raw := r.Metadata["metadata"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &metadata)
	}
	var tags []string
	if raw := r.Metadata["tags"]; raw != "" {
		tags = strings.Split(raw, ",")
	}

	return memory.Entry{
		ID:        r.ID,
		UserID:    r.Metadata["user_id"],
		AgentID:   r.Metadata["agent_id"],
		Summary:   r.Content,
		Embedding: r.Embedding,
		Tags:      tags,
		Metadata:  metadata,
		CreatedAt: createdAt,
	}, seq
}
