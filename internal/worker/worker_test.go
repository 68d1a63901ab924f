package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hnpulse/hnpulse/internal/analysis"
	"github.com/hnpulse/hnpulse/internal/hn"
	"github.com/hnpulse/hnpulse/internal/log"
	"github.com/hnpulse/hnpulse/internal/store"
	"github.com/hnpulse/hnpulse/internal/vecindex"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeUpstream struct {
	candidates []int64
	items      map[int64]*hn.Item
}

func (f *fakeUpstream) ListCandidateIDs(_ context.Context, limit int) ([]int64, error) {
	if limit > 0 && len(f.candidates) > limit {
		return f.candidates[:limit], nil
	}
	return f.candidates, nil
}

func (f *fakeUpstream) FetchItem(_ context.Context, id int64) (*hn.Item, error) {
	return f.items[id], nil
}

func (f *fakeUpstream) FetchChildren(_ context.Context, ids []int64) []*hn.Item {
	out := make([]*hn.Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := f.items[id]; ok {
			out = append(out, it)
		}
	}
	return out
}

type fakeAnalyzer struct {
	storyCalls   int
	commentCalls int
	embedCalls   int

	failStoryTitles map[string]bool

	lastStoryTitle    string
	lastParentSummary string
}

func (f *fakeAnalyzer) AnalyzeStory(_ context.Context, title, _, _ string) (*analysis.StoryAnalysis, error) {
	f.storyCalls++
	if f.failStoryTitles[title] {
		return nil, fmt.Errorf("analyzing story: %w", analysis.ErrRetryExhausted)
	}
	return &analysis.StoryAnalysis{
		CoreIdea:             "core idea for " + title,
		Concepts:             []string{"distributed systems"},
		Sentiment:            analysis.SentimentNeutral,
		ControversyPotential: analysis.ControversyLow,
		IntellectualDepth:    analysis.DepthModerate,
	}, nil
}

func (f *fakeAnalyzer) AnalyzeComment(_ context.Context, body, storyTitle, parentSummary string) (*analysis.CommentAnalysis, error) {
	f.commentCalls++
	f.lastStoryTitle = storyTitle
	f.lastParentSummary = parentSummary
	return &analysis.CommentAnalysis{
		ArgumentSummary: "summary of: " + body[:min(len(body), 20)],
		CommentType:     "insight",
		Sentiment:       analysis.SentimentPositive,
	}, nil
}

func (f *fakeAnalyzer) Embed(_ context.Context, _ string) ([]float32, error) {
	f.embedCalls++
	return []float32{0.1, 0.2}, nil
}

func (f *fakeAnalyzer) Version() string { return analysis.Version }

type fakeStore struct {
	stories  map[int64]*store.Story
	comments map[int64]*store.Comment

	refreshed []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		stories:  make(map[int64]*store.Story),
		comments: make(map[int64]*store.Comment),
	}
}

func (f *fakeStore) GetStory(_ context.Context, id int64) (*store.Story, error) {
	s, ok := f.stories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) InsertStory(_ context.Context, s *store.Story) error {
	if _, ok := f.stories[s.SourceID]; ok {
		return store.ErrAlreadyExists
	}
	cp := *s
	f.stories[s.SourceID] = &cp
	return nil
}

func (f *fakeStore) RefreshStoryVolatile(_ context.Context, id int64, title string, score, descendants int) error {
	s, ok := f.stories[id]
	if !ok {
		return store.ErrNotFound
	}
	s.Title = title
	s.Score = score
	s.Descendants = descendants
	f.refreshed = append(f.refreshed, id)
	return nil
}

func (f *fakeStore) SaveStoryAnalysis(_ context.Context, id int64, a *analysis.StoryAnalysis) error {
	s, ok := f.stories[id]
	if !ok {
		return store.ErrNotFound
	}
	s.CoreIdea = &a.CoreIdea
	s.Concepts = a.Concepts
	return nil
}

func (f *fakeStore) MarkStoryEmbedded(_ context.Context, id int64, version string) error {
	s, ok := f.stories[id]
	if !ok {
		return store.ErrNotFound
	}
	s.Embedded = true
	s.AnalysisVersion = &version
	return nil
}

func (f *fakeStore) ListStaleStories(_ context.Context, target string, _, _ *time.Time, limit int) ([]store.Story, error) {
	var out []store.Story
	for _, s := range f.stories {
		if s.AnalysisVersion == nil || *s.AnalysisVersion != target {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) ExistingCommentIDs(_ context.Context, ids []int64) (map[int64]struct{}, error) {
	out := make(map[int64]struct{})
	for _, id := range ids {
		if _, ok := f.comments[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (f *fakeStore) InsertComment(_ context.Context, c *store.Comment) error {
	if _, ok := f.comments[c.SourceID]; ok {
		return store.ErrAlreadyExists
	}
	cp := *c
	f.comments[c.SourceID] = &cp
	return nil
}

func (f *fakeStore) SaveCommentAnalysis(_ context.Context, id int64, a *analysis.CommentAnalysis) error {
	c, ok := f.comments[id]
	if !ok {
		return store.ErrNotFound
	}
	c.ArgumentSummary = &a.ArgumentSummary
	return nil
}

func (f *fakeStore) MarkCommentEmbedded(_ context.Context, id int64, version string) error {
	c, ok := f.comments[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Embedded = true
	c.AnalysisVersion = &version
	return nil
}

func (f *fakeStore) ParentSummary(_ context.Context, parentID int64) (string, error) {
	c, ok := f.comments[parentID]
	if !ok || c.ArgumentSummary == nil {
		return "", nil
	}
	return *c.ArgumentSummary, nil
}

func (f *fakeStore) ListStaleComments(_ context.Context, target string, _, _ *time.Time, limit int) ([]store.Comment, error) {
	var out []store.Comment
	for _, c := range f.comments {
		if c.AnalysisVersion == nil || *c.AnalysisVersion != target {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeVecIndex struct {
	upserts []struct {
		col vecindex.Collection
		id  int64
	}
}

func (f *fakeVecIndex) Upsert(_ context.Context, col vecindex.Collection, id int64, _ []float32, _ map[string]string) error {
	f.upserts = append(f.upserts, struct {
		col vecindex.Collection
		id  int64
	}{col, id})
	return nil
}

type fixture struct {
	worker   *Worker
	upstream *fakeUpstream
	analyzer *fakeAnalyzer
	store    *fakeStore
	index    *fakeVecIndex
	state    *State
}

func newFixture(cfg Config) *fixture {
	if cfg.MaxStoryAge == 0 {
		cfg.MaxStoryAge = 8 * time.Hour
	}
	if cfg.MaxCommentsPerStory == 0 {
		cfg.MaxCommentsPerStory = 20
	}
	if cfg.CandidateLimit == 0 {
		cfg.CandidateLimit = 100
	}
	f := &fixture{
		upstream: &fakeUpstream{items: make(map[int64]*hn.Item)},
		analyzer: &fakeAnalyzer{},
		store:    newFakeStore(),
		index:    &fakeVecIndex{},
		state:    NewState(),
	}
	f.worker = New(cfg, f.upstream, f.analyzer, f.store, f.index, f.state, nil, log.NewNop())
	return f
}

func (f *fixture) addStory(id int64, title string, age time.Duration, kids ...int64) {
	f.upstream.items[id] = &hn.Item{
		ID:          id,
		Type:        "story",
		Title:       title,
		By:          "someone",
		Score:       42,
		Descendants: len(kids),
		Time:        time.Now().Add(-age).Unix(),
		Kids:        kids,
	}
}

func (f *fixture) addComment(id, parent int64, text string) {
	f.upstream.items[id] = &hn.Item{
		ID:     id,
		Type:   "comment",
		Parent: parent,
		By:     "commenter",
		Text:   text,
		Time:   time.Now().Add(-time.Hour).Unix(),
	}
}

const longComment = "This is a substantive comment that clearly exceeds the analyzability threshold."

func TestCycleClassifiesCandidates(t *testing.T) {
	f := newFixture(Config{})
	f.upstream.candidates = []int64{101, 202}
	f.addStory(101, "Fresh story", time.Hour, 301)
	f.addStory(202, "Stale story", 48*time.Hour)
	f.addComment(301, 101, longComment)

	sum, err := f.worker.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.New)
	assert.Equal(t, 1, sum.TooOld)
	assert.Equal(t, 0, sum.Cached)
	assert.Equal(t, 1, sum.NewComments)
	assert.Equal(t, 0, sum.Errors)

	// The too-old story must not leave any trace in the store.
	_, err = f.store.GetStory(context.Background(), 202)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The fresh story is fully analyzed and embedded.
	s, err := f.store.GetStory(context.Background(), 101)
	require.NoError(t, err)
	assert.True(t, s.Analyzed())
	require.NotNil(t, s.AnalysisVersion)
	assert.Equal(t, analysis.Version, *s.AnalysisVersion)
}

func TestCycleIdempotent(t *testing.T) {
	f := newFixture(Config{})
	f.upstream.candidates = []int64{101}
	f.addStory(101, "A story", time.Hour)

	_, err := f.worker.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, f.analyzer.storyCalls)

	// Upstream score moves between cycles.
	f.upstream.items[101].Score = 99

	sum, err := f.worker.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Cached)
	assert.Equal(t, 0, sum.New)
	assert.Equal(t, 1, f.analyzer.storyCalls, "cached story must not be re-analyzed")

	s, err := f.store.GetStory(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, 99, s.Score, "volatile fields refresh on every sighting")
}

func TestCycleAnalysisFailureKeepsRecord(t *testing.T) {
	f := newFixture(Config{})
	f.upstream.candidates = []int64{101, 102}
	f.addStory(101, "Doomed story", time.Hour)
	f.addStory(102, "Fine story", time.Hour)
	f.analyzer.failStoryTitles = map[string]bool{"Doomed story": true}

	sum, err := f.worker.RunCycle(context.Background())
	require.NoError(t, err)

	// The failure is contained: the cycle still processes the next story.
	assert.Equal(t, 2, sum.New)
	assert.Equal(t, 1, sum.Errors)

	s, err := f.store.GetStory(context.Background(), 101)
	require.NoError(t, err, "record persists even when analysis fails")
	assert.False(t, s.Embedded)
	assert.Nil(t, s.AnalysisVersion)

	snap := f.state.Snapshot()
	require.NotEmpty(t, snap.RecentErrors)
	assert.Contains(t, snap.RecentErrors[0], "101")

	ok, err := f.store.GetStory(context.Background(), 102)
	require.NoError(t, err)
	assert.True(t, ok.Analyzed())
}

func TestCycleFailedStoryRetriedNextCycle(t *testing.T) {
	f := newFixture(Config{})
	f.upstream.candidates = []int64{101}
	f.addStory(101, "Flaky story", time.Hour)
	f.analyzer.failStoryTitles = map[string]bool{"Flaky story": true}

	_, err := f.worker.RunCycle(context.Background())
	require.NoError(t, err)

	// Next cycle sees it as cached; the regeneration pass owns the retry.
	f.analyzer.failStoryTitles = nil
	sum, err := f.worker.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Cached)

	res, err := f.worker.Regenerate(context.Background(), RegenRequest{Type: "stories"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Regenerated)

	s, err := f.store.GetStory(context.Background(), 101)
	require.NoError(t, err)
	assert.True(t, s.Analyzed())
}

func TestCommentCapLeavesRestForNextCycle(t *testing.T) {
	f := newFixture(Config{MaxCommentsPerStory: 2})
	f.upstream.candidates = []int64{101}
	f.addStory(101, "Busy story", time.Hour, 301, 302, 303)
	f.addComment(301, 101, longComment)
	f.addComment(302, 101, longComment)
	f.addComment(303, 101, longComment)

	sum, err := f.worker.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.NewComments)

	// Already-stored comments don't count against the cap next time around.
	sum, err = f.worker.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.NewComments)

	c, ok := f.store.comments[303]
	require.True(t, ok)
	assert.True(t, c.Analyzed())
}

func TestShortCommentStoredNotAnalyzed(t *testing.T) {
	f := newFixture(Config{})
	f.upstream.candidates = []int64{101}
	f.addStory(101, "A story", time.Hour, 301)
	f.addComment(301, 101, "lol")

	sum, err := f.worker.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.NewComments)
	assert.Equal(t, 0, f.analyzer.commentCalls)

	c, ok := f.store.comments[301]
	require.True(t, ok, "short comments are stored")
	assert.False(t, c.Analyzed())
}

func TestCommentContextComesFromStoryTitle(t *testing.T) {
	f := newFixture(Config{})
	f.upstream.candidates = []int64{101}
	f.addStory(101, "Context story", time.Hour, 301)
	f.addComment(301, 101, longComment)

	_, err := f.worker.RunCycle(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, f.analyzer.commentCalls)
	assert.Equal(t, "Context story", f.analyzer.lastStoryTitle)
	assert.Empty(t, f.analyzer.lastParentSummary, "story parents contribute no argument summary")
}

func TestDeadCandidateCountsUnavailable(t *testing.T) {
	f := newFixture(Config{})
	f.upstream.candidates = []int64{404}

	sum, err := f.worker.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Unavailable)
	assert.Equal(t, 0, sum.New)
}

func TestRunCycleRejectsOverlap(t *testing.T) {
	f := newFixture(Config{})
	f.worker.cycleBusy.Store(true)

	_, err := f.worker.RunCycle(context.Background())
	assert.Error(t, err)
}

func TestRegenerateConvergesToTargetVersion(t *testing.T) {
	f := newFixture(Config{})
	f.upstream.candidates = []int64{101}
	f.addStory(101, "A story", time.Hour, 301)
	f.addComment(301, 101, longComment)

	_, err := f.worker.RunCycle(context.Background())
	require.NoError(t, err)

	// Simulate a schema bump by marking everything as an older version.
	old := "v2"
	f.store.stories[101].AnalysisVersion = &old
	f.store.comments[301].AnalysisVersion = &old

	res, err := f.worker.Regenerate(context.Background(), RegenRequest{Type: "all"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Examined)
	assert.Equal(t, 2, res.Regenerated)
	assert.Empty(t, res.Errors)
	assert.Equal(t, analysis.Version, res.TargetVersion)

	// A second pass finds nothing stale.
	res, err = f.worker.Regenerate(context.Background(), RegenRequest{Type: "all"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Examined)
}

func TestRegenerateBusy(t *testing.T) {
	f := newFixture(Config{})
	f.worker.regenBusy.Store(true)

	_, err := f.worker.Regenerate(context.Background(), RegenRequest{})
	assert.ErrorIs(t, err, ErrRegenBusy)

	_, err = f.worker.StartRegeneration(context.Background(), RegenRequest{})
	assert.ErrorIs(t, err, ErrRegenBusy)
}

func TestStartRegenerationRunsInBackground(t *testing.T) {
	f := newFixture(Config{})
	f.upstream.candidates = []int64{101}
	f.addStory(101, "A story", time.Hour)
	_, err := f.worker.RunCycle(context.Background())
	require.NoError(t, err)

	old := "v1"
	f.store.stories[101].AnalysisVersion = &old

	jobID, err := f.worker.StartRegeneration(context.Background(), RegenRequest{Type: "stories"})
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		snap := f.state.Snapshot()
		return !snap.RegenRunning && snap.LastRegen != nil
	}, 5*time.Second, 10*time.Millisecond)

	snap := f.state.Snapshot()
	assert.Equal(t, jobID, snap.LastRegen.JobID)
	assert.Equal(t, 1, snap.LastRegen.Regenerated)
}

func TestRegenerateSharedLimit(t *testing.T) {
	f := newFixture(Config{})
	now := time.Now()
	for i := int64(1); i <= 3; i++ {
		f.store.stories[i] = &store.Story{SourceID: i, Title: fmt.Sprintf("s%d", i), PostedAt: now}
	}
	body := longComment
	f.store.comments[10] = &store.Comment{SourceID: 10, ParentID: 1, Body: &body, PostedAt: now}

	res, err := f.worker.Regenerate(context.Background(), RegenRequest{Type: "all", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Examined, "stories consume the cap before comments")
	assert.Equal(t, 0, len(res.Errors))
}

func TestRegenerateCommentUsesStoredParentSummary(t *testing.T) {
	f := newFixture(Config{})
	now := time.Now()
	parentBody := longComment
	parentSummary := "parent made a strong argument"
	childBody := longComment
	current := analysis.Version
	f.store.comments[20] = &store.Comment{
		SourceID: 20, ParentID: 999, Body: &parentBody,
		ArgumentSummary: &parentSummary, PostedAt: now,
		AnalysisVersion: &current, Embedded: true,
	}
	f.store.comments[21] = &store.Comment{
		SourceID: 21, ParentID: 20, Body: &childBody, PostedAt: now,
	}

	_, err := f.worker.Regenerate(context.Background(), RegenRequest{Type: "comments"})
	require.NoError(t, err)

	// Comment 21's parent is comment 20; its stored summary is the context.
	assert.Equal(t, parentSummary, f.analyzer.lastParentSummary)
}

func TestWorkerStartStop(t *testing.T) {
	f := newFixture(Config{PollInterval: time.Hour})
	f.upstream.candidates = []int64{101}
	f.addStory(101, "A story", time.Hour)

	ctx := context.Background()
	require.NoError(t, f.worker.Start(ctx))

	// The immediate first cycle lands without waiting a full interval.
	require.Eventually(t, func() bool {
		return f.state.Snapshot().LastCycle != nil
	}, 5*time.Second, 10*time.Millisecond)

	f.worker.Stop()
	assert.False(t, f.state.Snapshot().Running)
}

func TestErrorRingBounded(t *testing.T) {
	s := NewState()
	for i := 0; i < errorRingCap+25; i++ {
		s.RecordError(fmt.Sprintf("error %d", i))
	}
	snap := s.Snapshot()
	assert.Len(t, snap.RecentErrors, errorRingCap)
	assert.Equal(t, "error 25", snap.RecentErrors[0], "oldest entries are evicted first")
}

func TestUnknownStoreErrorDuringLookup(t *testing.T) {
	f := newFixture(Config{})
	f.upstream.candidates = []int64{101}
	f.addStory(101, "A story", time.Hour)
	f.worker.store = &failingLookupStore{fakeStore: f.store}

	sum, err := f.worker.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, 0, sum.New)
}

type failingLookupStore struct {
	*fakeStore
}

func (f *failingLookupStore) GetStory(context.Context, int64) (*store.Story, error) {
	return nil, errors.New("connection reset")
}
