package analysis

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// storySchema and commentSchema are the JSON schemas sent with each chat
// request as a structured-output constraint. They are derived from the Go
// types once at init; enum constraints are tightened by hand because schema
// inference cannot see the valid value sets.
var (
	storySchema   *jsonschema.Schema
	commentSchema *jsonschema.Schema
)

func init() {
	var err error
	storySchema, err = jsonschema.For[StoryAnalysis](nil)
	if err != nil {
		panic(fmt.Sprintf("analysis: building story schema: %v", err))
	}
	commentSchema, err = jsonschema.For[CommentAnalysis](nil)
	if err != nil {
		panic(fmt.Sprintf("analysis: building comment schema: %v", err))
	}

	sentiments := enumValues(
		string(SentimentVeryNegative),
		string(SentimentNegative),
		string(SentimentNeutral),
		string(SentimentPositive),
		string(SentimentVeryPositive),
	)

	constrain(storySchema, "sentiment", sentiments)
	constrain(storySchema, "controversy_potential",
		enumValues(ControversyLow, ControversyMedium, ControversyHigh))
	constrain(storySchema, "intellectual_depth",
		enumValues(DepthSurface, DepthModerate, DepthDeep))

	constrain(commentSchema, "sentiment", sentiments)
	constrain(commentSchema, "comment_type", enumValues(CommentTypes...))
}

func constrain(s *jsonschema.Schema, property string, values []any) {
	prop, ok := s.Properties[property]
	if !ok {
		panic(fmt.Sprintf("analysis: schema has no property %q", property))
	}
	prop.Enum = values
}

func enumValues(values ...string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
