package advice

import (
	"strings"
	"unicode/utf8"
)

// Classification is the inferred intent of a query.
type Classification string

const (
	// ClassAdviceSeeking marks queries asking for a recommendation;
	// such queries are regulated and require opt-in consent.
	ClassAdviceSeeking Classification = "advice_seeking"
	// ClassInformational marks queries asking for facts only.
	ClassInformational Classification = "informational"
)

// Query is a submitted question. Read-only once constructed; the inferred
// classification is produced by the query validator, not set by callers.
type Query struct {
	Text           string         `json:"text"`
	Classification Classification `json:"classification,omitempty"`
}

// Length returns the query length in characters (not bytes). Tier length
// limits are specified in characters so multi-byte input is not penalized.
func (q Query) Length() int {
	return utf8.RuneCountInString(q.Text)
}

// Empty reports whether the query carries no text. Whitespace-only input
// counts as empty.
func (q Query) Empty() bool {
	return strings.TrimSpace(q.Text) == ""
}

// WithClassification returns a copy of the query with the classification set.
func (q Query) WithClassification(c Classification) Query {
	q.Classification = c
	return q
}
