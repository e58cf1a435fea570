// Package postgres stores memories, vectors and the user profile in
// PostgreSQL through a pgx pool. Vectors are kept as JSON text and scored in
// process, which is fine at thousands of entries per user.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/becomeliminal/nim-companion/memory"
)

// Store implements memory.Journal, memory.VectorIndex and
// memory.ProfileSource.
type Store struct {
	pool     *pgxpool.Pool
	embedder memory.Embedder
	logger   *log.Logger
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open connects a pool to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, embedder memory.Embedder, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(pool, embedder, opts...), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, embedder memory.Embedder, opts ...Option) *Store {
	s := &Store{pool: pool, embedder: embedder, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.Default().WithPrefix("postgres")
	}
	return s
}

// Pool returns the underlying pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SaveMemory implements memory.Journal.
func (s *Store) SaveMemory(ctx context.Context, e memory.Entry) error {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO memories (id, user_id, agent_id, summary, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.UserID, e.AgentID, e.Summary, meta, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// RecentMemories implements memory.Journal.
func (s *Store) RecentMemories(ctx context.Context, userID, agentID string, limit int) ([]memory.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, agent_id, summary, metadata, created_at
		FROM memories
		WHERE user_id = $1 AND agent_id = $2
		ORDER BY created_at DESC
		LIMIT $3`, userID, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []memory.Entry
	for rows.Next() {
		var e memory.Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.AgentID, &e.Summary, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Add implements memory.VectorIndex. Re-adding an id replaces its content
// but keeps its original sequence number.
func (s *Store) Add(ctx context.Context, e memory.Entry) bool {
	if len(e.Embedding) == 0 {
		s.logger.Warn("skipping entry without embedding", "id", e.ID)
		return false
	}
	vec, meta, err := encodeRow(e)
	if err != nil {
		s.logger.Error("encode vector row failed", "id", e.ID, "err", err)
		return false
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO memory_vectors (id, content, embedding, metadata, tags, agent_id, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			tags = EXCLUDED.tags`,
		e.ID, e.Summary, vec, meta, strings.Join(e.Tags, ","), e.AgentID, e.UserID, e.CreatedAt)
	if err != nil {
		s.logger.Error("insert vector failed", "id", e.ID, "err", err)
		return false
	}
	return true
}

// Search implements memory.VectorIndex with a linear cosine scan.
func (s *Store) Search(ctx context.Context, query, userID, agentID string, limit int) []memory.SearchResult {
	if limit <= 0 {
		return []memory.SearchResult{}
	}
	q := memory.EmbedText(ctx, s.embedder, query, memory.DefaultEmbedTimeout, s.logger)
	if len(q) == 0 {
		return []memory.SearchResult{}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, content, embedding, metadata, tags, created_at
		FROM memory_vectors
		WHERE user_id = $1 AND agent_id = $2
		ORDER BY seq`, userID, agentID)
	if err != nil {
		s.logger.Error("query vectors failed", "user", userID, "agent", agentID, "err", err)
		return []memory.SearchResult{}
	}
	defer rows.Close()

	var results []memory.SearchResult
	for rows.Next() {
		var (
			e               memory.Entry
			vec, meta, tags string
		)
		if err := rows.Scan(&e.ID, &e.Summary, &vec, &meta, &tags, &e.CreatedAt); err != nil {
			s.logger.Error("scan vector failed", "err", err)
			return []memory.SearchResult{}
		}
		e.UserID, e.AgentID = userID, agentID
		if err := decodeRow(&e, vec, meta, tags); err != nil {
			s.logger.Warn("skipping undecodable vector", "id", e.ID, "err", err)
			continue
		}
		results = append(results, memory.SearchResult{Entry: e, Score: memory.Cosine(q, e.Embedding)})
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("read vectors failed", "err", err)
		return []memory.SearchResult{}
	}
	return memory.Rank(results, limit)
}

func encodeRow(e memory.Entry) (vec, meta string, err error) {
	vb, err := json.Marshal(e.Embedding)
	if err != nil {
		return "", "", err
	}
	if e.Metadata == nil {
		return string(vb), "{}", nil
	}
	mb, err := json.Marshal(e.Metadata)
	if err != nil {
		return "", "", err
	}
	return string(vb), string(mb), nil
}

func decodeRow(e *memory.Entry, vec, meta, tags string) error {
	if err := json.Unmarshal([]byte(vec), &e.Embedding); err != nil {
		return fmt.Errorf("decode embedding: %w", err)
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
	}
	if tags != "" {
		e.Tags = strings.Split(tags, ",")
	}
	return nil
}
