//go:build integration
// +build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnpulse/hnpulse/internal/analysis"
	"github.com/hnpulse/hnpulse/internal/log"
	"github.com/hnpulse/hnpulse/internal/store"
	"github.com/hnpulse/hnpulse/internal/testutil"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	db := testutil.SetupTestDB(t)
	return store.New(db.Pool, log.NewNop())
}

func newStory(id int64) *store.Story {
	url := "https://example.com/post"
	return &store.Story{
		SourceID:    id,
		Title:       "Show HN: something",
		URL:         &url,
		Author:      "author",
		Score:       10,
		Descendants: 2,
		PostedAt:    time.Now().Add(-time.Hour).Truncate(time.Second),
	}
}

func storyFacts() *analysis.StoryAnalysis {
	return &analysis.StoryAnalysis{
		CoreIdea:             "a new take on build systems",
		Concepts:             []string{"Build_Systems", "  caching "},
		Technologies:         []string{"go"},
		Sentiment:            analysis.SentimentPositive,
		SentimentScore:       0.4,
		ControversyPotential: analysis.ControversyLow,
		IntellectualDepth:    analysis.DepthModerate,
	}
}

func TestStoryRoundTrip(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertStory(ctx, newStory(101)))

	got, err := st.GetStory(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, "Show HN: something", got.Title)
	assert.False(t, got.Analyzed())

	// A second insert of the same source id is a duplicate.
	err = st.InsertStory(ctx, newStory(101))
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestStoryNotFound(t *testing.T) {
	st := setupStore(t)

	_, err := st.GetStory(context.Background(), 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRefreshStoryVolatile(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertStory(ctx, newStory(101)))
	require.NoError(t, st.RefreshStoryVolatile(ctx, 101, "Updated title", 250, 80))

	got, err := st.GetStory(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, "Updated title", got.Title)
	assert.Equal(t, 250, got.Score)
	assert.Equal(t, 80, got.Descendants)
}

func TestStoryAnalysisLifecycle(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertStory(ctx, newStory(101)))
	require.NoError(t, st.SaveStoryAnalysis(ctx, 101, storyFacts()))

	// Facts are saved but the record is not analyzed until marked embedded.
	got, err := st.GetStory(ctx, 101)
	require.NoError(t, err)
	require.NotNil(t, got.CoreIdea)
	assert.False(t, got.Analyzed())
	// Concepts are normalized at write time.
	assert.Equal(t, []string{"build systems", "caching"}, got.Concepts)

	require.NoError(t, st.MarkStoryEmbedded(ctx, 101, analysis.Version))

	got, err = st.GetStory(ctx, 101)
	require.NoError(t, err)
	assert.True(t, got.Analyzed())
	assert.Equal(t, analysis.Version, *got.AnalysisVersion)
	assert.NotNil(t, got.ProcessedAt)
}

func TestListStaleStories(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	// 101 never analyzed, 102 analyzed at an old version, 103 current.
	for _, id := range []int64{101, 102, 103} {
		require.NoError(t, st.InsertStory(ctx, newStory(id)))
	}
	require.NoError(t, st.SaveStoryAnalysis(ctx, 102, storyFacts()))
	require.NoError(t, st.MarkStoryEmbedded(ctx, 102, "v1"))
	require.NoError(t, st.SaveStoryAnalysis(ctx, 103, storyFacts()))
	require.NoError(t, st.MarkStoryEmbedded(ctx, 103, analysis.Version))

	stale, err := st.ListStaleStories(ctx, analysis.Version, nil, nil, 0)
	require.NoError(t, err)

	ids := make([]int64, 0, len(stale))
	for _, s := range stale {
		ids = append(ids, s.SourceID)
	}
	assert.ElementsMatch(t, []int64{101, 102}, ids, "NULL and old versions are both stale")
}

func TestCommentLifecycle(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	body := "<p>I disagree with the premise</p>"
	author := "skeptic"
	c := &store.Comment{
		SourceID: 301,
		ParentID: 101,
		Body:     &body,
		Author:   &author,
		PostedAt: time.Now().Truncate(time.Second),
	}
	require.NoError(t, st.InsertComment(ctx, c))
	assert.ErrorIs(t, st.InsertComment(ctx, c), store.ErrAlreadyExists)

	existing, err := st.ExistingCommentIDs(ctx, []int64{301, 302})
	require.NoError(t, err)
	assert.Contains(t, existing, int64(301))
	assert.NotContains(t, existing, int64(302))

	facts := &analysis.CommentAnalysis{
		ArgumentSummary: "questions the premise entirely",
		CommentType:     "disagreement",
		Sentiment:       analysis.SentimentNegative,
		SentimentScore:  -0.5,
	}
	require.NoError(t, st.SaveCommentAnalysis(ctx, 301, facts))
	require.NoError(t, st.MarkCommentEmbedded(ctx, 301, analysis.Version))

	got, err := st.GetComment(ctx, 301)
	require.NoError(t, err)
	assert.True(t, got.Analyzed())

	summary, err := st.ParentSummary(ctx, 301)
	require.NoError(t, err)
	assert.Equal(t, "questions the premise entirely", summary)

	// Unknown or unanalyzed parents yield empty context, not an error.
	summary, err = st.ParentSummary(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, summary)
}

func TestCounts(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertStory(ctx, newStory(101)))
	require.NoError(t, st.InsertStory(ctx, newStory(102)))
	require.NoError(t, st.SaveStoryAnalysis(ctx, 101, storyFacts()))
	require.NoError(t, st.MarkStoryEmbedded(ctx, 101, analysis.Version))

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Stories)
	assert.Equal(t, int64(1), counts.StoriesAnalyzed)
	assert.Equal(t, int64(0), counts.Comments)
}

func TestGetStoriesBySourceIDs(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	for _, id := range []int64{101, 102} {
		require.NoError(t, st.InsertStory(ctx, newStory(id)))
	}

	stories, err := st.GetStoriesBySourceIDs(ctx, []int64{102, 101, 999})
	require.NoError(t, err)
	assert.Len(t, stories, 2, "missing ids are silently dropped")
}
