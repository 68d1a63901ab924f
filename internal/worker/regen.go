package worker

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hnpulse/hnpulse/internal/store"
	"github.com/hnpulse/hnpulse/internal/textutil"
	"github.com/hnpulse/hnpulse/internal/vecindex"
)

// ErrRegenBusy is returned when a regeneration job is already in flight.
var ErrRegenBusy = errors.New("worker: regeneration already running")

// RegenRequest bounds one regeneration run. Type is "stories", "comments" or
// "all"; a zero Limit means no cap; Since/Until filter on posted_at.
type RegenRequest struct {
	Type  string
	Limit int
	Since *time.Time
	Until *time.Time
}

// StartRegeneration launches a regeneration job in the background and
// returns its id, or ErrRegenBusy when one is already running. The job keeps
// going even if the original HTTP request goes away; only process shutdown
// stops it.
func (w *Worker) StartRegeneration(ctx context.Context, req RegenRequest) (string, error) {
	if !w.regenBusy.CompareAndSwap(false, true) {
		return "", ErrRegenBusy
	}

	jobID := uuid.NewString()
	w.state.BeginRegen(jobID)

	// Detach from the request context so the job survives the caller.
	ctx = context.WithoutCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.regenBusy.Store(false)

		res := w.regenerate(ctx, jobID, req)
		w.state.EndRegen(res)
		w.logger.Info("regeneration complete",
			"job_id", jobID, "type", res.Type,
			"examined", res.Examined, "regenerated", res.Regenerated,
			"errors", len(res.Errors), "duration", res.Duration)
	}()
	return jobID, nil
}

// Regenerate runs a regeneration job synchronously. Used by the CLI; the
// HTTP surface goes through StartRegeneration.
func (w *Worker) Regenerate(ctx context.Context, req RegenRequest) (*RegenResult, error) {
	if !w.regenBusy.CompareAndSwap(false, true) {
		return nil, ErrRegenBusy
	}
	defer w.regenBusy.Store(false)

	jobID := uuid.NewString()
	w.state.BeginRegen(jobID)
	res := w.regenerate(ctx, jobID, req)
	w.state.EndRegen(res)
	return res, nil
}

func (w *Worker) regenerate(ctx context.Context, jobID string, req RegenRequest) *RegenResult {
	start := time.Now()
	target := w.analyzer.Version()
	res := &RegenResult{
		JobID:         jobID,
		Type:          req.Type,
		TargetVersion: target,
		StartedAt:     start,
		Errors:        []string{},
	}

	doStories := req.Type == "stories" || req.Type == "all" || req.Type == ""
	doComments := req.Type == "comments" || req.Type == "all" || req.Type == ""

	// With both kinds selected, the cap is shared: stories draw from it
	// first and comments get the remainder.
	remaining := req.Limit

	if doStories {
		stories, err := w.store.ListStaleStories(ctx, target, req.Since, req.Until, remaining)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("listing stale stories: %v", err))
		} else {
			for _, s := range stories {
				res.Examined++
				if err := w.regenStory(ctx, &s); err != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("story %d: %v", s.SourceID, err))
					continue
				}
				res.Regenerated++
			}
			if remaining > 0 {
				remaining -= len(stories)
				if remaining < 0 {
					remaining = 0
				}
			}
		}
	}

	if doComments && (req.Limit == 0 || remaining > 0) {
		comments, err := w.store.ListStaleComments(ctx, target, req.Since, req.Until, remaining)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("listing stale comments: %v", err))
		} else {
			for _, c := range comments {
				res.Examined++
				if err := w.regenComment(ctx, &c); err != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("comment %d: %v", c.SourceID, err))
					continue
				}
				res.Regenerated++
			}
		}
	}

	res.Duration = time.Since(start)
	return res
}

// regenStory re-runs the full analyze -> embed -> mark path for one stored
// story, using the stored identity fields rather than re-fetching upstream.
func (w *Worker) regenStory(ctx context.Context, s *store.Story) error {
	body := ""
	if s.Body != nil {
		body = textutil.StripHTML(*s.Body)
	}
	url := ""
	if s.URL != nil {
		url = *s.URL
	}

	sa, err := w.analyzer.AnalyzeStory(ctx, s.Title, body, url)
	if err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	if err := w.store.SaveStoryAnalysis(ctx, s.SourceID, sa); err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}

	vec, err := w.analyzer.Embed(ctx, storyEmbedText(s.Title, sa))
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	meta := map[string]string{"title": s.Title}
	if err := w.index.Upsert(ctx, vecindex.Stories, s.SourceID, vec, meta); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if err := w.store.MarkStoryEmbedded(ctx, s.SourceID, w.analyzer.Version()); err != nil {
		return fmt.Errorf("mark embedded: %w", err)
	}
	if w.metrics != nil {
		w.metrics.EmbeddedTotal.Inc()
	}
	return nil
}

// regenComment re-runs analysis for one stored comment. Unlike the ingestion
// path, parent context comes from the store: the parent's stored argument
// summary when the parent is a comment, or the story title when the parent
// is the story itself. Comments below the analyzability threshold keep
// getting skipped here too.
func (w *Worker) regenComment(ctx context.Context, c *store.Comment) error {
	body := ""
	if c.Body != nil {
		body = textutil.StripHTML(*c.Body)
	}
	if utf8.RuneCountInString(body) <= minAnalyzableCommentLen {
		return nil
	}

	storyTitle := ""
	parentSummary := ""
	if parent, err := w.store.GetStory(ctx, c.ParentID); err == nil {
		storyTitle = parent.Title
	} else if errors.Is(err, store.ErrNotFound) {
		summary, serr := w.store.ParentSummary(ctx, c.ParentID)
		if serr != nil && !errors.Is(serr, store.ErrNotFound) {
			return fmt.Errorf("parent summary: %w", serr)
		}
		parentSummary = summary
	} else {
		return fmt.Errorf("parent lookup: %w", err)
	}

	ca, err := w.analyzer.AnalyzeComment(ctx, body, storyTitle, parentSummary)
	if err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	if err := w.store.SaveCommentAnalysis(ctx, c.SourceID, ca); err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}

	vec, err := w.analyzer.Embed(ctx, commentEmbedText(ca))
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	meta := map[string]string{"story_title": storyTitle}
	if err := w.index.Upsert(ctx, vecindex.Comments, c.SourceID, vec, meta); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if err := w.store.MarkCommentEmbedded(ctx, c.SourceID, w.analyzer.Version()); err != nil {
		return fmt.Errorf("mark embedded: %w", err)
	}
	if w.metrics != nil {
		w.metrics.EmbeddedTotal.Inc()
	}
	return nil
}
