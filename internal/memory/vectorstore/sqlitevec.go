//go:build sqlite_vec && cgo

package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// Registers the sqlite-vec extension as auto-loadable for every
	// connection opened through the mattn/go-sqlite3 driver.
	vec.Auto()
}

// SQLiteVecStore is a local, on-disk Store backed by sqlite-vec's vec0
// virtual table. It is an optional build (behind the sqlite_vec cgo
// build tag) for single-node deployments that want a real nearest-
// neighbour index without standing up an external vector database.
type SQLiteVecStore struct {
	db  *sql.DB
	dim int
}

// OpenSQLiteVecStore opens (creating if absent) a sqlite-vec database
// at path, sized for embeddings of dim dimensions.
func OpenSQLiteVecStore(path string, dim int) (*SQLiteVecStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite-vec db: %w", err)
	}
	s := &SQLiteVecStore{db: db, dim: dim}
	return s, nil
}

func (s *SQLiteVecStore) ensureCollection(collection string) error {
	_, err := s.db.Exec(fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(embedding float[%d])`,
		quoteIdent(collection), s.dim,
	))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s_meta (id TEXT PRIMARY KEY, rowid_ref INTEGER, metadata TEXT)`,
		quoteIdent(collection),
	))
	return err
}

func quoteIdent(s string) string { return `"` + s + `"` }

// Upsert implements Store.
func (s *SQLiteVecStore) Upsert(ctx context.Context, collection, id string, embedding []float32, metadata map[string]any) error {
	if err := s.ensureCollection(collection); err != nil {
		return err
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s_meta WHERE id = ?`, quoteIdent(collection)), id); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s(embedding) VALUES (?)`, quoteIdent(collection)), vec.SerializeFloat32(embedding))
	if err != nil {
		return err
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s_meta(id, rowid_ref, metadata) VALUES (?, ?, ?)`, quoteIdent(collection)), id, rowID, string(raw)); err != nil {
		return err
	}

	return tx.Commit()
}

// Query implements Store using vec0's distance-ordered KNN match
// syntax, converting sqlite-vec's cosine distance into this package's
// similarity scale (similarity = 1 - distance).
func (s *SQLiteVecStore) Query(ctx context.Context, collection string, embedding []float32, topK int, minSimilarity float64) ([]Match, error) {
	if err := s.ensureCollection(collection); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT m.id, m.metadata, v.distance
		 FROM %s AS v
		 JOIN %s_meta AS m ON m.rowid_ref = v.rowid
		 WHERE v.embedding MATCH ? AND k = ?
		 ORDER BY v.distance`,
		quoteIdent(collection), quoteIdent(collection),
	), vec.SerializeFloat32(embedding), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var id, metaRaw string
		var distance float64
		if err := rows.Scan(&id, &metaRaw, &distance); err != nil {
			return nil, err
		}
		similarity := 1 - distance
		if similarity < minSimilarity {
			continue
		}
		var meta map[string]any
		_ = json.Unmarshal([]byte(metaRaw), &meta)
		matches = append(matches, Match{ID: id, Metadata: meta, Similarity: similarity})
	}
	return matches, rows.Err()
}

// Delete implements Store.
func (s *SQLiteVecStore) Delete(ctx context.Context, collection, id string) error {
	var rowID int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT rowid_ref FROM %s_meta WHERE id = ?`, quoteIdent(collection)), id).Scan(&rowID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE rowid = ?`, quoteIdent(collection)), rowID); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s_meta WHERE id = ?`, quoteIdent(collection)), id)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteVecStore) Close() error { return s.db.Close() }
