// Package search resolves free-text queries to stored items via the vector
// index. The query text is embedded, the index returns ranked neighbors, and
// identifiers are resolved back to full records with a similarity score of
// 1 - distance.
package search

import (
	"context"
	"fmt"

	"github.com/hnpulse/hnpulse/internal/log"
	"github.com/hnpulse/hnpulse/internal/store"
	"github.com/hnpulse/hnpulse/internal/vecindex"
)

// DefaultLimit is the result count when the caller does not specify one.
const DefaultLimit = 10

// Embedder generates query embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the nearest-neighbor query surface consumed here.
type Index interface {
	Query(ctx context.Context, col vecindex.Collection, vec []float32, k int) ([]vecindex.Match, error)
}

// RecordStore resolves source identifiers to full records.
type RecordStore interface {
	GetStoriesBySourceIDs(ctx context.Context, ids []int64) ([]store.Story, error)
	GetCommentsBySourceIDs(ctx context.Context, ids []int64) ([]store.Comment, error)
}

// StoryHit is one story result with its similarity score.
type StoryHit struct {
	Story      store.Story `json:"story"`
	Similarity float64     `json:"similarity"`
}

// CommentHit is one comment result with its similarity score.
type CommentHit struct {
	Comment    store.Comment `json:"comment"`
	Similarity float64       `json:"similarity"`
}

// Searcher performs semantic search over the two collections.
type Searcher struct {
	embedder Embedder
	index    Index
	records  RecordStore
	logger   log.Logger
}

// New creates a Searcher.
func New(embedder Embedder, index Index, records RecordStore, logger log.Logger) *Searcher {
	return &Searcher{
		embedder: embedder,
		index:    index,
		records:  records,
		logger:   logger.With("component", "search"),
	}
}

// SearchStories returns up to k stories ranked by similarity to the query.
// An empty index yields an empty slice, not an error.
func (s *Searcher) SearchStories(ctx context.Context, query string, k int) ([]StoryHit, error) {
	matches, err := s.matches(ctx, vecindex.Stories, query, k)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return []StoryHit{}, nil
	}

	records, err := s.records.GetStoriesBySourceIDs(ctx, matchIDs(matches))
	if err != nil {
		return nil, fmt.Errorf("resolving stories: %w", err)
	}
	byID := make(map[int64]store.Story, len(records))
	for _, r := range records {
		byID[r.SourceID] = r
	}

	hits := make([]StoryHit, 0, len(matches))
	for _, m := range matches {
		rec, ok := byID[m.SourceID]
		if !ok {
			// Index entry without a record; skip rather than fail the search.
			s.logger.Warn("vector match has no stored record", "id", m.SourceID, "collection", vecindex.Stories)
			continue
		}
		hits = append(hits, StoryHit{Story: rec, Similarity: similarity(m.Distance)})
	}
	return hits, nil
}

// SearchComments returns up to k comments ranked by similarity to the query.
func (s *Searcher) SearchComments(ctx context.Context, query string, k int) ([]CommentHit, error) {
	matches, err := s.matches(ctx, vecindex.Comments, query, k)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return []CommentHit{}, nil
	}

	records, err := s.records.GetCommentsBySourceIDs(ctx, matchIDs(matches))
	if err != nil {
		return nil, fmt.Errorf("resolving comments: %w", err)
	}
	byID := make(map[int64]store.Comment, len(records))
	for _, r := range records {
		byID[r.SourceID] = r
	}

	hits := make([]CommentHit, 0, len(matches))
	for _, m := range matches {
		rec, ok := byID[m.SourceID]
		if !ok {
			s.logger.Warn("vector match has no stored record", "id", m.SourceID, "collection", vecindex.Comments)
			continue
		}
		hits = append(hits, CommentHit{Comment: rec, Similarity: similarity(m.Distance)})
	}
	return hits, nil
}

func (s *Searcher) matches(ctx context.Context, col vecindex.Collection, query string, k int) ([]vecindex.Match, error) {
	if k <= 0 {
		k = DefaultLimit
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	matches, err := s.index.Query(ctx, col, vec, k)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	return matches, nil
}

func matchIDs(matches []vecindex.Match) []int64 {
	ids := make([]int64, len(matches))
	for i, m := range matches {
		ids[i] = m.SourceID
	}
	return ids
}

func similarity(distance float32) float64 {
	return 1 - float64(distance)
}
