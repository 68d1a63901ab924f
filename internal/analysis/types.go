package analysis

import "fmt"

// Version tags every successful analysis with the extraction schema that
// produced it. Bumping it marks all previously stored analyses as stale and
// eligible for regeneration.
const Version = "v3"

// Sentiment is the five-level sentiment label shared by stories and comments.
type Sentiment string

const (
	SentimentVeryNegative Sentiment = "very_negative"
	SentimentNegative     Sentiment = "negative"
	SentimentNeutral      Sentiment = "neutral"
	SentimentPositive     Sentiment = "positive"
	SentimentVeryPositive Sentiment = "very_positive"
)

var validSentiments = map[Sentiment]bool{
	SentimentVeryNegative: true,
	SentimentNegative:     true,
	SentimentNeutral:      true,
	SentimentPositive:     true,
	SentimentVeryPositive: true,
}

// Controversy levels for stories.
const (
	ControversyLow    = "low"
	ControversyMedium = "medium"
	ControversyHigh   = "high"
)

// Intellectual depth levels for stories.
const (
	DepthSurface  = "surface"
	DepthModerate = "moderate"
	DepthDeep     = "deep"
)

// CommentTypes enumerates the ten comment classifications the extraction
// schema allows.
var CommentTypes = []string{
	"agreement",
	"disagreement",
	"question",
	"answer",
	"personal_experience",
	"technical_detail",
	"criticism",
	"humor",
	"meta",
	"insight",
}

// StoryAnalysis is the structured extraction for one story.
// JSON tags double as the wire schema sent to the model.
type StoryAnalysis struct {
	CoreIdea             string    `json:"core_idea"`
	Concepts             []string  `json:"concepts"`
	Technologies         []string  `json:"technologies"`
	Entities             []string  `json:"entities"`
	CommunityAngle       string    `json:"community_angle"`
	Sentiment            Sentiment `json:"sentiment"`
	SentimentScore       float64   `json:"sentiment_score"`
	ControversyPotential string    `json:"controversy_potential"`
	IntellectualDepth    string    `json:"intellectual_depth"`
}

// CommentAnalysis is the structured extraction for one comment.
type CommentAnalysis struct {
	ArgumentSummary string    `json:"argument_summary"`
	Concepts        []string  `json:"concepts"`
	Technologies    []string  `json:"technologies"`
	Entities        []string  `json:"entities"`
	CommentType     string    `json:"comment_type"`
	Sentiment       Sentiment `json:"sentiment"`
	SentimentScore  float64   `json:"sentiment_score"`
}

// validate checks required fields and clamps the score into [-1, 1].
// The model occasionally returns out-of-range scores; clamping beats
// rejecting an otherwise usable analysis.
func (a *StoryAnalysis) validate() error {
	if a.CoreIdea == "" {
		return fmt.Errorf("missing core_idea")
	}
	if !validSentiments[a.Sentiment] {
		return fmt.Errorf("invalid sentiment %q", a.Sentiment)
	}
	switch a.ControversyPotential {
	case ControversyLow, ControversyMedium, ControversyHigh:
	default:
		return fmt.Errorf("invalid controversy_potential %q", a.ControversyPotential)
	}
	switch a.IntellectualDepth {
	case DepthSurface, DepthModerate, DepthDeep:
	default:
		return fmt.Errorf("invalid intellectual_depth %q", a.IntellectualDepth)
	}
	a.SentimentScore = clampScore(a.SentimentScore)
	return nil
}

func (a *CommentAnalysis) validate() error {
	if a.ArgumentSummary == "" {
		return fmt.Errorf("missing argument_summary")
	}
	if !validSentiments[a.Sentiment] {
		return fmt.Errorf("invalid sentiment %q", a.Sentiment)
	}
	valid := false
	for _, ct := range CommentTypes {
		if a.CommentType == ct {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid comment_type %q", a.CommentType)
	}
	a.SentimentScore = clampScore(a.SentimentScore)
	return nil
}

func clampScore(s float64) float64 {
	if s < -1 {
		return -1
	}
	if s > 1 {
		return 1
	}
	return s
}
