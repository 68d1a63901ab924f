// Package store is the durable relational storage for stories and comments.
//
// Upsert-by-source-id is the only write path for identity fields. The
// uniqueness constraint on source_id is the concurrency guard against
// duplicate inserts: a losing insert surfaces as ErrAlreadyExists and callers
// treat it as "record already present", never as a fatal error.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hnpulse/hnpulse/internal/analysis"
	"github.com/hnpulse/hnpulse/internal/log"
	"github.com/hnpulse/hnpulse/internal/textutil"
)

var (
	// ErrNotFound is returned when no record matches the source identifier.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned when an insert loses the uniqueness race.
	ErrAlreadyExists = errors.New("store: already exists")
)

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store provides item persistence on a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a Store. The pool's lifetime is managed by the caller.
func New(pool *pgxpool.Pool, logger log.Logger) *Store {
	return &Store{pool: pool, logger: logger.With("component", "store")}
}

const storyColumns = `source_id, title, url, body, author, score, descendants, posted_at,
	core_idea, concepts, technologies, entities, community_angle,
	sentiment, sentiment_score, controversy, depth,
	analysis_version, embedded, processed_at, created_at, updated_at`

func scanStory(row pgx.Row) (*Story, error) {
	var s Story
	err := row.Scan(
		&s.SourceID, &s.Title, &s.URL, &s.Body, &s.Author, &s.Score, &s.Descendants, &s.PostedAt,
		&s.CoreIdea, &s.Concepts, &s.Technologies, &s.Entities, &s.CommunityAngle,
		&s.Sentiment, &s.SentimentScore, &s.Controversy, &s.Depth,
		&s.AnalysisVersion, &s.Embedded, &s.ProcessedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning story: %w", err)
	}
	return &s, nil
}

// GetStory fetches one story by source identifier.
func (st *Store) GetStory(ctx context.Context, sourceID int64) (*Story, error) {
	row := st.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM stories WHERE source_id = $1", storyColumns), sourceID)
	return scanStory(row)
}

// InsertStory creates a new story record with identity fields only.
// Returns ErrAlreadyExists when another writer got there first.
func (st *Store) InsertStory(ctx context.Context, s *Story) error {
	sql, args, err := psql.Insert("stories").
		Columns("source_id", "title", "url", "body", "author", "score", "descendants", "posted_at").
		Values(s.SourceID, s.Title, s.URL, s.Body, s.Author, s.Score, s.Descendants, s.PostedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}

	if _, err := st.pool.Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting story %d: %w", s.SourceID, err)
	}
	return nil
}

// RefreshStoryVolatile updates only the fields upstream mutates after
// posting: title (edits), score and descendant count.
func (st *Store) RefreshStoryVolatile(ctx context.Context, sourceID int64, title string, score, descendants int) error {
	sql, args, err := psql.Update("stories").
		Set("title", title).
		Set("score", score).
		Set("descendants", descendants).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"source_id": sourceID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	if _, err := st.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("refreshing story %d: %w", sourceID, err)
	}
	return nil
}

// SaveStoryAnalysis stores the extracted facts. Concepts are normalized here,
// at write time, and never re-derived from stored data. The record does not
// count as analyzed until MarkStoryEmbedded also runs.
func (st *Store) SaveStoryAnalysis(ctx context.Context, sourceID int64, a *analysis.StoryAnalysis) error {
	sql, args, err := psql.Update("stories").
		Set("core_idea", a.CoreIdea).
		Set("concepts", textutil.NormalizeConcepts(a.Concepts)).
		Set("technologies", a.Technologies).
		Set("entities", a.Entities).
		Set("community_angle", a.CommunityAngle).
		Set("sentiment", string(a.Sentiment)).
		Set("sentiment_score", a.SentimentScore).
		Set("controversy", a.ControversyPotential).
		Set("depth", a.IntellectualDepth).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"source_id": sourceID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	if _, err := st.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("saving story analysis %d: %w", sourceID, err)
	}
	return nil
}

// MarkStoryEmbedded flips embedded and analysis_version together in a single
// statement so the two fields can never be observed out of sync.
func (st *Store) MarkStoryEmbedded(ctx context.Context, sourceID int64, version string) error {
	sql, args, err := psql.Update("stories").
		Set("embedded", true).
		Set("analysis_version", version).
		Set("processed_at", sq.Expr("now()")).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"source_id": sourceID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	if _, err := st.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("marking story %d embedded: %w", sourceID, err)
	}
	return nil
}

// ListStaleStories returns stories whose analysis version differs from
// target (including never-analyzed records), most recent first, up to limit.
func (st *Store) ListStaleStories(ctx context.Context, target string, since, until *time.Time, limit int) ([]Story, error) {
	q := psql.Select(storyColumns).
		From("stories").
		Where(sq.Expr("analysis_version IS DISTINCT FROM ?", target)).
		OrderBy("posted_at DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if since != nil {
		q = q.Where(sq.GtOrEq{"posted_at": *since})
	}
	if until != nil {
		q = q.Where(sq.LtOrEq{"posted_at": *until})
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	rows, err := st.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing stale stories: %w", err)
	}
	defer rows.Close()

	var out []Story
	for rows.Next() {
		s, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// GetStoriesBySourceIDs resolves a set of identifiers to full records.
// Missing identifiers are silently absent from the result.
func (st *Store) GetStoriesBySourceIDs(ctx context.Context, ids []int64) ([]Story, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sql, args, err := psql.Select(storyColumns).
		From("stories").
		Where(sq.Eq{"source_id": ids}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	rows, err := st.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching stories: %w", err)
	}
	defer rows.Close()

	var out []Story
	for rows.Next() {
		s, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

const commentColumns = `source_id, parent_id, body, author, posted_at,
	argument_summary, concepts, technologies, entities, comment_type,
	sentiment, sentiment_score,
	analysis_version, embedded, processed_at, created_at, updated_at`

func scanComment(row pgx.Row) (*Comment, error) {
	var c Comment
	err := row.Scan(
		&c.SourceID, &c.ParentID, &c.Body, &c.Author, &c.PostedAt,
		&c.ArgumentSummary, &c.Concepts, &c.Technologies, &c.Entities, &c.CommentType,
		&c.Sentiment, &c.SentimentScore,
		&c.AnalysisVersion, &c.Embedded, &c.ProcessedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning comment: %w", err)
	}
	return &c, nil
}

// GetComment fetches one comment by source identifier.
func (st *Store) GetComment(ctx context.Context, sourceID int64) (*Comment, error) {
	row := st.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM comments WHERE source_id = $1", commentColumns), sourceID)
	return scanComment(row)
}

// ExistingCommentIDs reports which of the given identifiers already have a
// stored comment record.
func (st *Store) ExistingCommentIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error) {
	existing := make(map[int64]struct{}, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	sql, args, err := psql.Select("source_id").
		From("comments").
		Where(sq.Eq{"source_id": ids}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	rows, err := st.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("checking existing comments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning comment id: %w", err)
		}
		existing[id] = struct{}{}
	}
	return existing, rows.Err()
}

// InsertComment creates a new comment record with identity fields only.
// Returns ErrAlreadyExists when another writer got there first.
func (st *Store) InsertComment(ctx context.Context, c *Comment) error {
	sql, args, err := psql.Insert("comments").
		Columns("source_id", "parent_id", "body", "author", "posted_at").
		Values(c.SourceID, c.ParentID, c.Body, c.Author, c.PostedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}

	if _, err := st.pool.Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting comment %d: %w", c.SourceID, err)
	}
	return nil
}

// SaveCommentAnalysis stores extracted comment facts, normalizing concepts
// at write time.
func (st *Store) SaveCommentAnalysis(ctx context.Context, sourceID int64, a *analysis.CommentAnalysis) error {
	sql, args, err := psql.Update("comments").
		Set("argument_summary", a.ArgumentSummary).
		Set("concepts", textutil.NormalizeConcepts(a.Concepts)).
		Set("technologies", a.Technologies).
		Set("entities", a.Entities).
		Set("comment_type", a.CommentType).
		Set("sentiment", string(a.Sentiment)).
		Set("sentiment_score", a.SentimentScore).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"source_id": sourceID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	if _, err := st.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("saving comment analysis %d: %w", sourceID, err)
	}
	return nil
}

// MarkCommentEmbedded flips embedded and analysis_version together.
func (st *Store) MarkCommentEmbedded(ctx context.Context, sourceID int64, version string) error {
	sql, args, err := psql.Update("comments").
		Set("embedded", true).
		Set("analysis_version", version).
		Set("processed_at", sq.Expr("now()")).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"source_id": sourceID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	if _, err := st.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("marking comment %d embedded: %w", sourceID, err)
	}
	return nil
}

// ParentSummary returns the stored argument summary of the parent comment,
// or "" when the parent is a story, unknown, or not yet analyzed.
func (st *Store) ParentSummary(ctx context.Context, parentID int64) (string, error) {
	var summary *string
	err := st.pool.QueryRow(ctx,
		"SELECT argument_summary FROM comments WHERE source_id = $1", parentID).Scan(&summary)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("fetching parent summary %d: %w", parentID, err)
	}
	if summary == nil {
		return "", nil
	}
	return *summary, nil
}

// ListStaleComments mirrors ListStaleStories for comments.
func (st *Store) ListStaleComments(ctx context.Context, target string, since, until *time.Time, limit int) ([]Comment, error) {
	q := psql.Select(commentColumns).
		From("comments").
		Where(sq.Expr("analysis_version IS DISTINCT FROM ?", target)).
		OrderBy("posted_at DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if since != nil {
		q = q.Where(sq.GtOrEq{"posted_at": *since})
	}
	if until != nil {
		q = q.Where(sq.LtOrEq{"posted_at": *until})
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	rows, err := st.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing stale comments: %w", err)
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetCommentsBySourceIDs resolves a set of identifiers to full records.
func (st *Store) GetCommentsBySourceIDs(ctx context.Context, ids []int64) ([]Comment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sql, args, err := psql.Select(commentColumns).
		From("comments").
		Where(sq.Eq{"source_id": ids}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	rows, err := st.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching comments: %w", err)
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Counts returns stored record totals for the status surface.
func (st *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := st.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM stories),
			(SELECT count(*) FROM stories WHERE embedded AND analysis_version IS NOT NULL),
			(SELECT count(*) FROM comments),
			(SELECT count(*) FROM comments WHERE embedded AND analysis_version IS NOT NULL)
	`).Scan(&c.Stories, &c.StoriesAnalyzed, &c.Comments, &c.CommentsAnalyzed)
	if err != nil {
		return Counts{}, fmt.Errorf("counting records: %w", err)
	}
	return c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
