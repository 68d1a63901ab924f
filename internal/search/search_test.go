package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnpulse/hnpulse/internal/log"
	"github.com/hnpulse/hnpulse/internal/store"
	"github.com/hnpulse/hnpulse/internal/vecindex"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.vec, f.err
}

type fakeIndex struct {
	matches []vecindex.Match
	gotK    int
	gotCol  vecindex.Collection
}

func (f *fakeIndex) Query(_ context.Context, col vecindex.Collection, _ []float32, k int) ([]vecindex.Match, error) {
	f.gotCol = col
	f.gotK = k
	return f.matches, nil
}

type fakeRecords struct {
	stories  []store.Story
	comments []store.Comment
}

func (f *fakeRecords) GetStoriesBySourceIDs(_ context.Context, _ []int64) ([]store.Story, error) {
	return f.stories, nil
}

func (f *fakeRecords) GetCommentsBySourceIDs(_ context.Context, _ []int64) ([]store.Comment, error) {
	return f.comments, nil
}

func TestSearchStoriesRanksAndScores(t *testing.T) {
	index := &fakeIndex{matches: []vecindex.Match{
		{SourceID: 2, Distance: 0.1},
		{SourceID: 1, Distance: 0.4},
	}}
	records := &fakeRecords{stories: []store.Story{
		{SourceID: 1, Title: "first"},
		{SourceID: 2, Title: "second"},
	}}
	s := New(&fakeEmbedder{vec: []float32{0.1}}, index, records, log.NewNop())

	hits, err := s.SearchStories(context.Background(), "query", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// Index rank order preserved, similarity = 1 - distance.
	assert.Equal(t, int64(2), hits[0].Story.SourceID)
	assert.InDelta(t, 0.9, hits[0].Similarity, 1e-6)
	assert.Equal(t, int64(1), hits[1].Story.SourceID)
	assert.InDelta(t, 0.6, hits[1].Similarity, 1e-6)

	assert.Equal(t, vecindex.Stories, index.gotCol)
	assert.Equal(t, 5, index.gotK)
}

func TestSearchStoriesEmptyIndex(t *testing.T) {
	s := New(&fakeEmbedder{vec: []float32{0.1}}, &fakeIndex{}, &fakeRecords{}, log.NewNop())

	hits, err := s.SearchStories(context.Background(), "anything", 0)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits, "empty index is an empty result, not an error")
}

func TestSearchStoriesSkipsDanglingMatches(t *testing.T) {
	index := &fakeIndex{matches: []vecindex.Match{
		{SourceID: 7, Distance: 0.2},
		{SourceID: 8, Distance: 0.3},
	}}
	records := &fakeRecords{stories: []store.Story{{SourceID: 8, Title: "kept"}}}
	s := New(&fakeEmbedder{vec: []float32{0.1}}, index, records, log.NewNop())

	hits, err := s.SearchStories(context.Background(), "q", 2)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(8), hits[0].Story.SourceID)
}

func TestSearchCommentsUsesCommentCollection(t *testing.T) {
	index := &fakeIndex{matches: []vecindex.Match{{SourceID: 301, Distance: 0.25}}}
	records := &fakeRecords{comments: []store.Comment{{SourceID: 301, ParentID: 101}}}
	s := New(&fakeEmbedder{vec: []float32{0.1}}, index, records, log.NewNop())

	hits, err := s.SearchComments(context.Background(), "q", 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, vecindex.Comments, index.gotCol)
	assert.InDelta(t, 0.75, hits[0].Similarity, 1e-6)
}

func TestSearchEmbedFailure(t *testing.T) {
	s := New(&fakeEmbedder{err: errors.New("backend down")}, &fakeIndex{}, &fakeRecords{}, log.NewNop())

	_, err := s.SearchStories(context.Background(), "q", 1)
	assert.Error(t, err)
}

func TestSearchDefaultLimit(t *testing.T) {
	index := &fakeIndex{}
	s := New(&fakeEmbedder{vec: []float32{0.1}}, index, &fakeRecords{}, log.NewNop())

	_, err := s.SearchStories(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, index.gotK)
}
