// Package classifier detects advice-seeking intent in queries and advisory
// language in generated responses. Classification is keyword based: phrase
// lists live in embedded YAML so deployments can be rebuilt with stricter
// lists without touching code.
package classifier

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cordon-io/cordon/internal/advice"
	"github.com/cordon-io/cordon/patterns"
)

// classifierFile is the top-level YAML structure for a classifier config file.
type classifierFile struct {
	Classifiers []classifierConfig `yaml:"classifiers"`
}

type classifierConfig struct {
	Name    string   `yaml:"name"`
	Label   string   `yaml:"label"`
	Phrases []string `yaml:"phrases"`
}

// phraseSet is one compiled classifier: a label and its lowercased phrases.
type phraseSet struct {
	name    string
	label   string
	phrases []string
}

func (s phraseSet) match(lower string) (string, bool) {
	for _, p := range s.phrases {
		if strings.Contains(lower, p) {
			return p, true
		}
	}
	return "", false
}

func compile(data []byte) ([]phraseSet, error) {
	var cf classifierFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parsing classifier YAML: %w", err)
	}
	sets := make([]phraseSet, 0, len(cf.Classifiers))
	for _, c := range cf.Classifiers {
		if len(c.Phrases) == 0 {
			return nil, fmt.Errorf("classifier %q has no phrases", c.Name)
		}
		ps := phraseSet{name: c.Name, label: c.Label, phrases: make([]string, len(c.Phrases))}
		for i, p := range c.Phrases {
			ps.phrases[i] = strings.ToLower(p)
		}
		sets = append(sets, ps)
	}
	return sets, nil
}

// Scanner holds the compiled query and response classifiers.
type Scanner struct {
	query    []phraseSet
	response []phraseSet
}

// NewScanner compiles the embedded default classifier definitions.
func NewScanner() (*Scanner, error) {
	q, err := compile(patterns.AdviceQueryYAML())
	if err != nil {
		return nil, fmt.Errorf("query classifiers: %w", err)
	}
	r, err := compile(patterns.AdviceResponseYAML())
	if err != nil {
		return nil, fmt.Errorf("response classifiers: %w", err)
	}
	return &Scanner{query: q, response: r}, nil
}

// ClassifyQuery labels a query as advice-seeking or informational.
func (s *Scanner) ClassifyQuery(text string) advice.Classification {
	lower := strings.ToLower(text)
	for _, set := range s.query {
		if set.label != "advice_seeking" {
			continue
		}
		if _, ok := set.match(lower); ok {
			return advice.ClassAdviceSeeking
		}
	}
	return advice.ClassInformational
}

// ResponseScan is the result of classifying a generated response.
type ResponseScan struct {
	AdviceDetected bool
	Matched        []string
	Risk           advice.RiskLevel
}

// ClassifyResponse scans a response body for advisory language and risk
// terms. Risk is the highest level any term triggers.
func (s *Scanner) ClassifyResponse(body string) ResponseScan {
	lower := strings.ToLower(body)
	scan := ResponseScan{Risk: advice.RiskLow}
	for _, set := range s.response {
		phrase, ok := set.match(lower)
		if !ok {
			continue
		}
		switch set.label {
		case "advice":
			scan.AdviceDetected = true
			scan.Matched = append(scan.Matched, phrase)
		case "high_risk":
			scan.Risk = advice.RiskHigh
		case "medium_risk":
			if scan.Risk != advice.RiskHigh {
				scan.Risk = advice.RiskMedium
			}
		}
	}
	return scan
}
