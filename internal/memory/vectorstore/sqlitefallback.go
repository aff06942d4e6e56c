package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a cgo-free, pure-Go Store backed by modernc.org/sqlite.
// It keeps one row per (collection, id) with the embedding and metadata
// serialized as JSON and scores queries with the same brute-force
// CosineSimilarity InMemoryStore uses — there is no vec0-style native
// index here, just a durable substitute for it. It exists for local
// development and single-process deployments that want their vectors
// to survive a restart without standing up an external vector database
// or requiring a cgo toolchain for the sqlite-vec build.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if absent) a vector store database at
// path. path may be ":memory:" for an ephemeral store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite vector fallback: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS vector_entries (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	embedding  TEXT NOT NULL,
	metadata   TEXT NOT NULL,
	PRIMARY KEY (collection, id)
)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite vector fallback schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Upsert implements Store.
func (s *SQLiteStore) Upsert(ctx context.Context, collection, id string, embedding []float32, metadata map[string]any) error {
	embRaw, err := json.Marshal(embedding)
	if err != nil {
		return err
	}
	metaRaw, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO vector_entries (collection, id, embedding, metadata) VALUES (?, ?, ?, ?)
ON CONFLICT (collection, id) DO UPDATE SET embedding = excluded.embedding, metadata = excluded.metadata
`, collection, id, string(embRaw), string(metaRaw))
	return err
}

// Query implements Store, scoring every row in collection with
// CosineSimilarity and returning the topK matches at or above
// minSimilarity.
func (s *SQLiteStore) Query(ctx context.Context, collection string, embedding []float32, topK int, minSimilarity float64) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding, metadata FROM vector_entries WHERE collection = ?`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var id, embRaw, metaRaw string
		if err := rows.Scan(&id, &embRaw, &metaRaw); err != nil {
			return nil, err
		}
		var emb []float32
		if err := json.Unmarshal([]byte(embRaw), &emb); err != nil {
			return nil, err
		}
		sim := CosineSimilarity(embedding, emb)
		if sim < minSimilarity {
			continue
		}
		var meta map[string]any
		_ = json.Unmarshal([]byte(metaRaw), &meta)
		matches = append(matches, Match{ID: id, Metadata: meta, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM vector_entries WHERE collection = ? AND id = ?`, collection, id)
	return err
}
