// Package vecindex is the nearest-neighbor store for item embeddings,
// backed by pgvector. Stories and comments live in two logical collections
// keyed by source identifier; distance is cosine.
package vecindex

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/hnpulse/hnpulse/internal/log"
)

// Collection names one of the two logical vector collections.
type Collection string

const (
	Stories  Collection = "stories"
	Comments Collection = "comments"
)

var collectionTables = map[Collection]string{
	Stories:  "story_vectors",
	Comments: "comment_vectors",
}

// Match is one nearest-neighbor result.
type Match struct {
	SourceID int64
	Distance float32
}

// Index provides upsert and query access to the vector collections.
type Index struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates an Index. The pool's lifetime is managed by the caller.
func New(pool *pgxpool.Pool, logger log.Logger) *Index {
	return &Index{pool: pool, logger: logger.With("component", "vecindex")}
}

// Upsert stores or replaces the embedding for one item.
func (ix *Index) Upsert(ctx context.Context, col Collection, sourceID int64, vec []float32, meta map[string]string) error {
	table, err := tableFor(col)
	if err != nil {
		return err
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	if meta == nil {
		metaJSON = []byte("{}")
	}

	sql := fmt.Sprintf(`
		INSERT INTO %s (source_id, embedding, metadata, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (source_id) DO UPDATE
		SET embedding = EXCLUDED.embedding,
		    metadata = EXCLUDED.metadata,
		    updated_at = now()`, table)

	if _, err := ix.pool.Exec(ctx, sql, sourceID, pgvector.NewVector(vec), metaJSON); err != nil {
		return fmt.Errorf("upserting vector %d into %s: %w", sourceID, col, err)
	}
	return nil
}

// Query returns the k nearest neighbors of vec, closest first.
// An empty collection yields an empty result, not an error.
func (ix *Index) Query(ctx context.Context, col Collection, vec []float32, k int) ([]Match, error) {
	table, err := tableFor(col)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 10
	}

	sql := fmt.Sprintf(`
		SELECT source_id, embedding <=> $1 AS distance
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`, table)

	rows, err := ix.pool.Query(ctx, sql, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", col, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var distance float64
		if err := rows.Scan(&m.SourceID, &distance); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		m.Distance = float32(distance)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Count returns the number of vectors in a collection.
func (ix *Index) Count(ctx context.Context, col Collection) (int64, error) {
	table, err := tableFor(col)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := ix.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", col, err)
	}
	return n, nil
}

func tableFor(col Collection) (string, error) {
	table, ok := collectionTables[col]
	if !ok {
		return "", fmt.Errorf("unknown collection %q", col)
	}
	return table, nil
}
