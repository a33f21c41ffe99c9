// Package chainstore persists finished reasoning chains and retrieves the
// ones most similar to a new task, so sessions can be seeded with worked
// examples. Storage is an append-only SQLite table; retrieval blends an
// embedding scan with a bleve keyword index and degrades step by step when
// either side is unavailable.
package chainstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ChamsBouzaiene/ponder/internal/engine"
)

// ChainRecord is one stored reasoning chain: the task, the session's own
// conversation (prelude trimmed), and the final answer.
type ChainRecord struct {
	ID        string
	Task      string
	Messages  []engine.ChatMessage
	Answer    string
	Model     string
	CreatedAt time.Time
}

// maxToolOutputBytes caps tool result content stored per message. Anything
// longer is cut and marked; retrieval quality depends on the reasoning, not
// on full tool dumps.
const maxToolOutputBytes = 1500

// Store is the chain memory. Safe for concurrent readers; writes are
// serialized by the single SQLite connection.
type Store struct {
	db       *sql.DB
	path     string
	embedder Embedder
	keyword  *keywordIndex
	watcher  *storeWatcher

	mu sync.Mutex // guards insert + keyword index update as one unit
}

// Open opens (or creates) the chain database at path and builds the keyword
// index from its rows. A nil embedder disables the embedding side of
// retrieval.
func Open(ctx context.Context, path string, embedder Embedder) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &engine.MemoryStoreError{Op: "open", Err: err}
	}

	// SQLite doesn't support multiple writers well.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &engine.MemoryStoreError{Op: "open", Err: err}
	}

	s := &Store{db: db, path: path, embedder: embedder}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, &engine.MemoryStoreError{Op: "open", Err: err}
	}

	s.keyword, err = newKeywordIndex()
	if err != nil {
		db.Close()
		return nil, &engine.MemoryStoreError{Op: "index", Err: err}
	}
	if err := s.reloadKeywordIndex(ctx); err != nil {
		log.Printf("WARNING: failed to build chain keyword index: %v", err)
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chains (
		chain_id   TEXT PRIMARY KEY,
		task       TEXT NOT NULL,
		messages   TEXT NOT NULL,
		answer     TEXT NOT NULL,
		model      TEXT NOT NULL DEFAULT '',
		dim        INTEGER NOT NULL DEFAULT 0,
		embedding  BLOB,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chains_created ON chains(created_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Insert appends a chain. Tool outputs above maxToolOutputBytes are redacted
// before storage. An embedder failure is not fatal; the row is stored without
// a vector and stays reachable through the keyword index.
func (s *Store) Insert(ctx context.Context, rec ChainRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	messages := redactToolOutputs(rec.Messages)
	encoded, err := json.Marshal(messages)
	if err != nil {
		return &engine.MemoryStoreError{Op: "insert", Err: err}
	}

	var vector []byte
	var dim int
	if s.embedder != nil {
		vector, dim, err = s.embedder.Embed(ctx, rec.Task)
		if err != nil {
			log.Printf("WARNING: chain embedding failed, storing without vector: %v", err)
			vector, dim = nil, 0
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO chains (chain_id, task, messages, answer, model, dim, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Task, string(encoded), rec.Answer, rec.Model, dim, vector, rec.CreatedAt.Unix())
	if err != nil {
		return &engine.MemoryStoreError{Op: "insert", Err: err}
	}

	if err := s.keyword.index(rec.ID, rec.Task); err != nil {
		log.Printf("WARNING: failed to index chain %s for keyword search: %v", rec.ID, err)
	}
	return nil
}

// scored pairs a chain id with a retrieval score.
type scored struct {
	id    string
	score float64
}

// Retrieve returns the topK chains most similar to the task. The embedding
// scan and the keyword index are merged with reciprocal rank fusion; when the
// embedder fails retrieval degrades to keyword-only, and when both sides come
// up empty the result is an empty slice, never an error.
func (s *Store) Retrieve(ctx context.Context, task string, topK int) ([]ChainRecord, error) {
	if topK <= 0 {
		topK = 3
	}

	vecRanked := s.rankByEmbedding(ctx, task)
	keyRanked := s.rankByKeyword(task)

	if len(vecRanked) == 0 && len(keyRanked) == 0 {
		return nil, nil
	}

	// Reciprocal rank fusion.
	const kOffset = 60.0
	scores := make(map[string]float64)
	for i, r := range vecRanked {
		scores[r.id] += 1.0 / (kOffset + float64(i+1))
	}
	for i, r := range keyRanked {
		scores[r.id] += 1.0 / (kOffset + float64(i+1))
	}

	merged := make([]scored, 0, len(scores))
	for id, score := range scores {
		merged = append(merged, scored{id, score})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].score > merged[j].score })
	if len(merged) > topK {
		merged = merged[:topK]
	}

	records := make([]ChainRecord, 0, len(merged))
	for _, m := range merged {
		rec, err := s.get(ctx, m.id)
		if err != nil {
			log.Printf("WARNING: failed to fetch chain %s: %v", m.id, err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// rankByEmbedding embeds the task and linearly scans stored vectors by cosine
// similarity. Any failure degrades to an empty ranking.
func (s *Store) rankByEmbedding(ctx context.Context, task string) []scored {
	if s.embedder == nil {
		return nil
	}

	queryVec, _, err := s.embedder.Embed(ctx, task)
	if err != nil {
		log.Printf("WARNING: query embedding failed, falling back to keyword retrieval: %v", err)
		return nil
	}
	qv, err := DecodeVector(queryVec)
	if err != nil || len(qv) == 0 {
		return nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT chain_id, embedding FROM chains WHERE dim > 0`)
	if err != nil {
		log.Printf("WARNING: embedding scan failed: %v", err)
		return nil
	}
	defer rows.Close()

	var ranked []scored
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			continue
		}
		vec, err := DecodeVector(blob)
		if err != nil || len(vec) != len(qv) {
			continue
		}
		ranked = append(ranked, scored{id: id, score: cosineSimilarity(qv, vec)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	return ranked
}

func (s *Store) rankByKeyword(task string) []scored {
	hits, err := s.keyword.search(task, 100)
	if err != nil {
		log.Printf("WARNING: keyword retrieval failed: %v", err)
		return nil
	}
	return hits
}

func (s *Store) get(ctx context.Context, id string) (ChainRecord, error) {
	var rec ChainRecord
	var encoded string
	var createdAt int64
	query := `SELECT chain_id, task, messages, answer, model, created_at FROM chains WHERE chain_id = ?`
	err := s.db.QueryRowContext(ctx, query, id).Scan(&rec.ID, &rec.Task, &encoded, &rec.Answer, &rec.Model, &createdAt)
	if err != nil {
		return ChainRecord{}, err
	}
	if err := json.Unmarshal([]byte(encoded), &rec.Messages); err != nil {
		return ChainRecord{}, fmt.Errorf("corrupt chain messages: %w", err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	return rec, nil
}

// Count returns the number of stored chains.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chains`).Scan(&n)
	if err != nil {
		return 0, &engine.MemoryStoreError{Op: "retrieve", Err: err}
	}
	return n, nil
}

// reloadKeywordIndex rebuilds the keyword index from the database.
func (s *Store) reloadKeywordIndex(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT chain_id, task FROM chains`)
	if err != nil {
		return err
	}
	defer rows.Close()

	docs := make(map[string]string)
	for rows.Next() {
		var id, task string
		if err := rows.Scan(&id, &task); err != nil {
			return err
		}
		docs[id] = task
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return s.keyword.rebuild(docs)
}

// Watch starts watching the database file for external writes; the keyword
// index is reloaded when another process appends chains.
func (s *Store) Watch() error {
	if s.watcher != nil {
		return nil
	}
	w, err := newStoreWatcher(s.path, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.reloadKeywordIndex(ctx); err != nil {
			log.Printf("WARNING: failed to reload chain keyword index: %v", err)
		}
	})
	if err != nil {
		return &engine.MemoryStoreError{Op: "index", Err: err}
	}
	s.watcher = w
	return nil
}

// Close stops the watcher and closes the database and keyword index.
func (s *Store) Close() error {
	if s.watcher != nil {
		s.watcher.stop()
		s.watcher = nil
	}
	if s.keyword != nil {
		_ = s.keyword.close()
	}
	return s.db.Close()
}

// redactToolOutputs truncates oversized tool results. The input is not
// mutated.
func redactToolOutputs(messages []engine.ChatMessage) []engine.ChatMessage {
	out := append([]engine.ChatMessage(nil), messages...)
	for i, msg := range out {
		if msg.Role == engine.RoleTool && len(msg.Content) > maxToolOutputBytes {
			out[i].Content = msg.Content[:maxToolOutputBytes] + "\n... [tool output truncated]"
		}
	}
	return out
}
