// Package memory implements semantic long-term memory: content is
// embedded and stored, then retrieved by cosine similarity.
package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// EmbedFunc produces an embedding vector for content.
type EmbedFunc func(ctx context.Context, content string) ([]float32, error)

// Result is a search hit.
type Result struct {
	Content  string
	Source   string
	SourceID string
	Score    float64
}

// Stats summarizes the store.
type Stats struct {
	TotalChunks int
}

// Store persists embedded chunks in SQLite and searches them by cosine
// similarity. Vectors are scanned in full; fine for the tens of
// thousands of chunks a personal assistant accumulates.
type Store struct {
	db     *sql.DB
	embed  EmbedFunc
	logger *slog.Logger
}

const memorySchema = `
CREATE TABLE IF NOT EXISTS chunks (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	source_id  TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source);
`

// Open opens (creating if necessary) the memory store at path.
func Open(path string, embed EmbedFunc, logger *slog.Logger) (*Store, error) {
	if embed == nil {
		return nil, fmt.Errorf("memory: embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(memorySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: init schema: %w", err)
	}
	return &Store{db: db, embed: embed, logger: logger.With("component", "memory")}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Index embeds content and stores it, returning the chunk id.
func (s *Store) Index(ctx context.Context, content, source, sourceID string) (string, error) {
	if content == "" {
		return "", fmt.Errorf("memory: content is empty")
	}
	vector, err := s.embed(ctx, content)
	if err != nil {
		return "", fmt.Errorf("memory: embed: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chunks (id, source, source_id, content, embedding) VALUES (?, ?, ?, ?, ?)`,
		id, source, sourceID, content, encodeVector(vector))
	if err != nil {
		return "", fmt.Errorf("memory: insert chunk: %w", err)
	}
	return id, nil
}

// Search embeds query and returns up to topK chunks with cosine
// similarity of at least minScore, ordered by descending score.
func (s *Store) Search(ctx context.Context, query string, topK int, minScore float64) ([]Result, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryVec, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT content, source, source_id, embedding FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("memory: scan chunks: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var blob []byte
		if err := rows.Scan(&r.Content, &r.Source, &r.SourceID, &blob); err != nil {
			return nil, fmt.Errorf("memory: scan row: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			s.logger.Warn("skipping chunk with corrupt embedding", "error", err)
			continue
		}
		r.Score = cosine(queryVec, vec)
		if r.Score >= minScore {
			results = append(results, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: iterate chunks: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Stats reports the chunk count.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&st.TotalChunks)
	if err != nil {
		return Stats{}, fmt.Errorf("memory: count chunks: %w", err)
	}
	return st, nil
}

// cosine returns the cosine similarity of a and b, 0 when dimensions
// differ or either vector is zero.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d not a multiple of 4", len(blob))
	}
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}
