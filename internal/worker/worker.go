// Package worker drives the ingestion pipeline: a polling loop that walks
// the merged candidate listing breadth-first (each story fully processed,
// including its direct children, before the next story begins), plus the
// on-demand regeneration pass over stale analyses.
//
// Scheduling is cooperative: a timer tick that fires while a cycle is still
// running is discarded, which is the backpressure mechanism keeping slow
// cycles from piling up behind the polling interval. There is no mid-cycle
// cancellation; a cycle runs to completion and any uncaught failure aborts
// only that cycle.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/robfig/cron/v3"

	"github.com/hnpulse/hnpulse/internal/analysis"
	"github.com/hnpulse/hnpulse/internal/hn"
	"github.com/hnpulse/hnpulse/internal/log"
	"github.com/hnpulse/hnpulse/internal/store"
	"github.com/hnpulse/hnpulse/internal/textutil"
	"github.com/hnpulse/hnpulse/internal/vecindex"
)

// minAnalyzableCommentLen is the stripped-text length (in runes) at or below
// which a comment is stored but never analyzed or embedded. One-liners carry
// too little signal to justify an LLM call.
const minAnalyzableCommentLen = 30

// Upstream is the feed surface the orchestrator consumes.
type Upstream interface {
	ListCandidateIDs(ctx context.Context, limit int) ([]int64, error)
	FetchItem(ctx context.Context, id int64) (*hn.Item, error)
	FetchChildren(ctx context.Context, ids []int64) []*hn.Item
}

// Analyzer is the LLM surface the orchestrator consumes.
type Analyzer interface {
	AnalyzeStory(ctx context.Context, title, body, url string) (*analysis.StoryAnalysis, error)
	AnalyzeComment(ctx context.Context, body, storyTitle, parentSummary string) (*analysis.CommentAnalysis, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	Version() string
}

// ItemStore is the persistence surface the orchestrator consumes.
type ItemStore interface {
	GetStory(ctx context.Context, sourceID int64) (*store.Story, error)
	InsertStory(ctx context.Context, s *store.Story) error
	RefreshStoryVolatile(ctx context.Context, sourceID int64, title string, score, descendants int) error
	SaveStoryAnalysis(ctx context.Context, sourceID int64, a *analysis.StoryAnalysis) error
	MarkStoryEmbedded(ctx context.Context, sourceID int64, version string) error
	ListStaleStories(ctx context.Context, target string, since, until *time.Time, limit int) ([]store.Story, error)

	ExistingCommentIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error)
	InsertComment(ctx context.Context, c *store.Comment) error
	SaveCommentAnalysis(ctx context.Context, sourceID int64, a *analysis.CommentAnalysis) error
	MarkCommentEmbedded(ctx context.Context, sourceID int64, version string) error
	ParentSummary(ctx context.Context, parentID int64) (string, error)
	ListStaleComments(ctx context.Context, target string, since, until *time.Time, limit int) ([]store.Comment, error)
}

// VectorIndex is the embedding store surface the orchestrator consumes.
type VectorIndex interface {
	Upsert(ctx context.Context, col vecindex.Collection, sourceID int64, vec []float32, meta map[string]string) error
}

// Config bounds one worker instance.
type Config struct {
	PollInterval        time.Duration
	MaxStoryAge         time.Duration
	MaxCommentsPerStory int
	CandidateLimit      int
}

// Worker owns the ingestion and regeneration orchestration.
type Worker struct {
	cfg      Config
	upstream Upstream
	analyzer Analyzer
	store    ItemStore
	index    VectorIndex
	state    *State
	metrics  *Metrics
	logger   log.Logger

	cron      *cron.Cron
	wg        sync.WaitGroup
	cycleBusy atomic.Bool
	regenBusy atomic.Bool
}

// New creates a Worker. metrics may be nil when no registry is wired
// (tests, one-shot CLI runs).
func New(cfg Config, upstream Upstream, analyzer Analyzer, itemStore ItemStore, index VectorIndex, state *State, metrics *Metrics, logger log.Logger) *Worker {
	return &Worker{
		cfg:      cfg,
		upstream: upstream,
		analyzer: analyzer,
		store:    itemStore,
		index:    index,
		state:    state,
		metrics:  metrics,
		logger:   logger.With("component", "worker"),
	}
}

// State exposes the live worker state for the status surface.
func (w *Worker) State() *State { return w.state }

// Start schedules the polling loop and kicks off an immediate first cycle.
func (w *Worker) Start(ctx context.Context) error {
	if w.cron != nil {
		return errors.New("worker: already started")
	}

	w.cron = cron.New()
	spec := fmt.Sprintf("@every %s", w.cfg.PollInterval)
	if _, err := w.cron.AddFunc(spec, func() { w.tick(ctx) }); err != nil {
		return fmt.Errorf("scheduling polling cycle: %w", err)
	}

	w.state.SetRunning(true)
	w.cron.Start()
	w.logger.Info("worker started", "poll_interval", w.cfg.PollInterval)

	// First cycle immediately rather than one full interval from now.
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.tick(ctx)
	}()
	return nil
}

// Stop halts the scheduler and waits for any in-flight cycle to finish.
func (w *Worker) Stop() {
	if w.cron != nil {
		<-w.cron.Stop().Done()
	}
	w.wg.Wait()
	w.state.SetRunning(false)
	w.logger.Info("worker stopped")
}

// tick runs one cycle unless the previous one is still going, in which case
// the tick is a logged no-op.
func (w *Worker) tick(ctx context.Context) {
	if !w.cycleBusy.CompareAndSwap(false, true) {
		w.logger.Info("previous cycle still running, skipping tick")
		return
	}
	defer w.cycleBusy.Store(false)

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("cycle panicked", "panic", r)
			w.state.RecordError(fmt.Sprintf("cycle panic: %v", r))
		}
	}()

	sum, err := w.runCycle(ctx)
	if err != nil {
		// Fatal cycle errors abort only this cycle; the next tick starts fresh.
		w.logger.Error("cycle failed", "error", err)
		w.state.RecordError(fmt.Sprintf("cycle failed: %v", err))
		return
	}
	w.logger.Info("cycle complete",
		"total", sum.Total, "new", sum.New, "cached", sum.Cached,
		"too_old", sum.TooOld, "unavailable", sum.Unavailable, "errors", sum.Errors,
		"comments_processed", sum.CommentsProcessed, "new_comments", sum.NewComments,
		"duration", sum.Duration)
}

// RunCycle executes one full ingestion cycle. Exported for the CLI and tests;
// the scheduler path goes through tick, which adds busy-guarding.
func (w *Worker) RunCycle(ctx context.Context) (CycleSummary, error) {
	if !w.cycleBusy.CompareAndSwap(false, true) {
		return CycleSummary{}, errors.New("worker: cycle already running")
	}
	defer w.cycleBusy.Store(false)
	return w.runCycle(ctx)
}

func (w *Worker) runCycle(ctx context.Context) (CycleSummary, error) {
	start := time.Now()
	sum := CycleSummary{StartedAt: start}

	ids, err := w.upstream.ListCandidateIDs(ctx, w.cfg.CandidateLimit)
	if err != nil {
		return sum, fmt.Errorf("listing candidates: %w", err)
	}
	sum.Total = len(ids)
	w.state.BeginCycle(len(ids))

	// Parent-context map for this cycle only: comment id -> argument summary.
	// A comment's parent may have been analyzed moments earlier in this same
	// pass; the map grows incrementally and dies with the cycle.
	parentSummaries := make(map[int64]string)

	for i, id := range ids {
		w.state.SetProgress(i+1, fmt.Sprintf("story %d", id), "story")
		w.processCandidate(ctx, id, parentSummaries, &sum)
	}

	sum.Duration = time.Since(start)
	w.state.EndCycle(sum)

	if w.metrics != nil {
		w.metrics.CyclesTotal.Inc()
		w.metrics.CycleDuration.Observe(sum.Duration.Seconds())
	}
	return sum, nil
}

// processCandidate handles one listed story id: classification, optional
// creation and analysis, then its direct children. Failures are contained
// here; nothing propagates to sibling candidates.
func (w *Worker) processCandidate(ctx context.Context, id int64, parentSummaries map[int64]string, sum *CycleSummary) {
	item, err := w.upstream.FetchItem(ctx, id)
	if err != nil || item == nil {
		sum.Unavailable++
		w.countItem("unavailable")
		return
	}
	if item.Type != "story" {
		sum.Unavailable++
		w.countItem("unavailable")
		return
	}

	_, err = w.store.GetStory(ctx, id)
	switch {
	case err == nil:
		// Known story: refresh the volatile fields only.
		if err := w.store.RefreshStoryVolatile(ctx, id, item.Title, item.Score, item.Descendants); err != nil {
			w.recordError(sum, fmt.Sprintf("story %d: refresh: %v", id, err))
		}
		sum.Cached++
		w.countItem("cached")

	case errors.Is(err, store.ErrNotFound):
		// The age check runs now, at fetch time, not at listing time. A story
		// can age out between the two; that race is accepted.
		if time.Since(item.PostedAt()) > w.cfg.MaxStoryAge {
			sum.TooOld++
			w.countItem("too_old")
			return
		}
		if !w.createAndAnalyzeStory(ctx, item, sum) {
			return
		}
		sum.New++
		w.countItem("new")

	default:
		w.recordError(sum, fmt.Sprintf("story %d: lookup: %v", id, err))
		return
	}

	w.state.SetProgress(0, fmt.Sprintf("story %d comments", id), "comments")
	w.processComments(ctx, item, parentSummaries, sum)
}

// createAndAnalyzeStory inserts the base record and runs the full
// analyze -> normalize -> embed -> mark path. An analysis failure leaves the
// record in place, unanalyzed, for a later cycle or regeneration pass.
// Returns false only when no record exists afterwards.
func (w *Worker) createAndAnalyzeStory(ctx context.Context, item *hn.Item, sum *CycleSummary) bool {
	s := &store.Story{
		SourceID:    item.ID,
		Title:       item.Title,
		URL:         optional(item.URL),
		Body:        optional(item.Text),
		Author:      item.By,
		Score:       item.Score,
		Descendants: item.Descendants,
		PostedAt:    item.PostedAt(),
	}

	if err := w.store.InsertStory(ctx, s); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// Lost the insert race; the winner owns analysis.
			return true
		}
		w.recordError(sum, fmt.Sprintf("story %d: insert: %v", item.ID, err))
		return false
	}

	body := textutil.StripHTML(item.Text)
	sa, err := w.analyzer.AnalyzeStory(ctx, item.Title, body, item.URL)
	if err != nil {
		w.analysisFailed(sum, fmt.Sprintf("story %d: analysis: %v", item.ID, err))
		w.state.ItemProcessed(false)
		return true
	}

	if err := w.store.SaveStoryAnalysis(ctx, item.ID, sa); err != nil {
		w.recordError(sum, fmt.Sprintf("story %d: save analysis: %v", item.ID, err))
		w.state.ItemProcessed(false)
		return true
	}

	if err := w.embedStory(ctx, item, sa); err != nil {
		w.recordError(sum, fmt.Sprintf("story %d: embed: %v", item.ID, err))
		w.state.ItemProcessed(false)
		return true
	}

	w.state.ItemProcessed(true)
	if w.metrics != nil {
		w.metrics.EmbeddedTotal.Inc()
	}
	return true
}

func (w *Worker) embedStory(ctx context.Context, item *hn.Item, sa *analysis.StoryAnalysis) error {
	vec, err := w.analyzer.Embed(ctx, storyEmbedText(item.Title, sa))
	if err != nil {
		return err
	}
	meta := map[string]string{"title": item.Title}
	if err := w.index.Upsert(ctx, vecindex.Stories, item.ID, vec, meta); err != nil {
		return err
	}
	// embedded and analysis_version flip together, after the vector landed.
	return w.store.MarkStoryEmbedded(ctx, item.ID, w.analyzer.Version())
}

// processComments fetches the story's direct children only (no recursive
// thread walk), skips known comments, applies the per-cycle cap as first-N
// in upstream child order, and analyzes each new comment with the parent
// comment's prior summary as context when one exists.
func (w *Worker) processComments(ctx context.Context, story *hn.Item, parentSummaries map[int64]string, sum *CycleSummary) {
	if len(story.Kids) == 0 {
		return
	}

	existing, err := w.store.ExistingCommentIDs(ctx, story.Kids)
	if err != nil {
		w.recordError(sum, fmt.Sprintf("story %d: comment lookup: %v", story.ID, err))
		return
	}

	newIDs := make([]int64, 0, len(story.Kids))
	for _, kid := range story.Kids {
		if _, ok := existing[kid]; !ok {
			newIDs = append(newIDs, kid)
		}
	}
	// Comments beyond the cap are left for the next cycle.
	if w.cfg.MaxCommentsPerStory > 0 && len(newIDs) > w.cfg.MaxCommentsPerStory {
		newIDs = newIDs[:w.cfg.MaxCommentsPerStory]
	}
	if len(newIDs) == 0 {
		return
	}

	for _, child := range w.upstream.FetchChildren(ctx, newIDs) {
		if child.Type != "comment" {
			continue
		}
		sum.CommentsProcessed++
		w.processComment(ctx, child, story.Title, parentSummaries, sum)
	}
}

func (w *Worker) processComment(ctx context.Context, child *hn.Item, storyTitle string, parentSummaries map[int64]string, sum *CycleSummary) {
	c := &store.Comment{
		SourceID: child.ID,
		ParentID: child.Parent,
		Body:     optional(child.Text),
		Author:   optional(child.By),
		PostedAt: child.PostedAt(),
	}

	if err := w.store.InsertComment(ctx, c); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return
		}
		w.recordError(sum, fmt.Sprintf("comment %d: insert: %v", child.ID, err))
		return
	}
	sum.NewComments++
	if w.metrics != nil {
		w.metrics.CommentsNew.Inc()
	}

	text := textutil.StripHTML(child.Text)
	if utf8.RuneCountInString(text) <= minAnalyzableCommentLen {
		// Stored but deliberately never analyzed.
		w.state.ItemProcessed(false)
		return
	}

	ca, err := w.analyzer.AnalyzeComment(ctx, text, storyTitle, parentSummaries[child.Parent])
	if err != nil {
		w.analysisFailed(sum, fmt.Sprintf("comment %d: analysis: %v", child.ID, err))
		w.state.ItemProcessed(false)
		return
	}

	if err := w.store.SaveCommentAnalysis(ctx, child.ID, ca); err != nil {
		w.recordError(sum, fmt.Sprintf("comment %d: save analysis: %v", child.ID, err))
		w.state.ItemProcessed(false)
		return
	}

	vec, err := w.analyzer.Embed(ctx, commentEmbedText(ca))
	if err != nil {
		w.recordError(sum, fmt.Sprintf("comment %d: embed: %v", child.ID, err))
		w.state.ItemProcessed(false)
		return
	}
	meta := map[string]string{"story_title": storyTitle}
	if err := w.index.Upsert(ctx, vecindex.Comments, child.ID, vec, meta); err != nil {
		w.recordError(sum, fmt.Sprintf("comment %d: index: %v", child.ID, err))
		w.state.ItemProcessed(false)
		return
	}
	if err := w.store.MarkCommentEmbedded(ctx, child.ID, w.analyzer.Version()); err != nil {
		w.recordError(sum, fmt.Sprintf("comment %d: mark embedded: %v", child.ID, err))
		w.state.ItemProcessed(false)
		return
	}

	// Later siblings in this cycle can use this comment as parent context.
	parentSummaries[child.ID] = ca.ArgumentSummary
	w.state.ItemProcessed(true)
	if w.metrics != nil {
		w.metrics.EmbeddedTotal.Inc()
	}
}

func (w *Worker) recordError(sum *CycleSummary, msg string) {
	sum.Errors++
	w.state.RecordError(msg)
	w.logger.Warn(msg)
}

func (w *Worker) analysisFailed(sum *CycleSummary, msg string) {
	w.recordError(sum, msg)
	if w.metrics != nil {
		w.metrics.AnalysisFailures.Inc()
	}
}

func (w *Worker) countItem(result string) {
	if w.metrics != nil {
		w.metrics.Items.WithLabelValues(result).Inc()
	}
}

// storyEmbedText builds the text that represents a story in vector space:
// the title plus the extracted semantics, not the raw body.
func storyEmbedText(title string, a *analysis.StoryAnalysis) string {
	parts := []string{title, a.CoreIdea}
	if len(a.Concepts) > 0 {
		parts = append(parts, strings.Join(a.Concepts, ", "))
	}
	if len(a.Technologies) > 0 {
		parts = append(parts, strings.Join(a.Technologies, ", "))
	}
	return strings.Join(parts, "\n")
}

func commentEmbedText(a *analysis.CommentAnalysis) string {
	parts := []string{a.ArgumentSummary}
	if len(a.Concepts) > 0 {
		parts = append(parts, strings.Join(a.Concepts, ", "))
	}
	return strings.Join(parts, "\n")
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
