package store

import "time"

// Story is one stored story record. Identity fields come from the upstream
// feed; analysis fields stay nil until the item has been analyzed.
type Story struct {
	SourceID    int64
	Title       string
	URL         *string
	Body        *string
	Author      string
	Score       int
	Descendants int
	PostedAt    time.Time

	CoreIdea       *string
	Concepts       []string
	Technologies   []string
	Entities       []string
	CommunityAngle *string
	Sentiment      *string
	SentimentScore *float64
	Controversy    *string
	Depth          *string

	AnalysisVersion *string
	Embedded        bool
	ProcessedAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Comment is one stored comment record. ParentID may reference a story or
// another comment.
type Comment struct {
	SourceID int64
	ParentID int64
	Body     *string
	Author   *string
	PostedAt time.Time

	ArgumentSummary *string
	Concepts        []string
	Technologies    []string
	Entities        []string
	CommentType     *string
	Sentiment       *string
	SentimentScore  *float64

	AnalysisVersion *string
	Embedded        bool
	ProcessedAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Analyzed reports whether the record carries a complete analysis.
// embedded and analysis_version transition together; checking both guards
// against a half-written state ever being treated as analyzed.
func (s *Story) Analyzed() bool {
	return s.Embedded && s.AnalysisVersion != nil
}

// Analyzed reports whether the comment carries a complete analysis.
func (c *Comment) Analyzed() bool {
	return c.Embedded && c.AnalysisVersion != nil
}

// Counts summarizes stored record totals for the status surface.
type Counts struct {
	Stories          int64 `json:"stories"`
	StoriesAnalyzed  int64 `json:"stories_analyzed"`
	Comments         int64 `json:"comments"`
	CommentsAnalyzed int64 `json:"comments_analyzed"`
}
