// Package patterns provides embedded default classifier definitions.
// YAML files in this directory define keyword and phrase lists used to
// detect advice-seeking queries and advisory language in responses.
package patterns

import _ "embed"

//go:embed advice_query.yaml
var adviceQueryYAML []byte

//go:embed advice_response.yaml
var adviceResponseYAML []byte

// AdviceQueryYAML returns the embedded query classifier definitions.
func AdviceQueryYAML() []byte { return adviceQueryYAML }

// AdviceResponseYAML returns the embedded response classifier definitions.
func AdviceResponseYAML() []byte { return adviceResponseYAML }
