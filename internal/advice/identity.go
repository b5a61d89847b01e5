// Package advice holds the domain objects that flow through the enforcement
// pipeline: the requesting identity, the query, knowledge documents, proposed
// actions, and the draft/final response pair. All values are immutable once
// constructed; perimeters derive new values instead of mutating inputs.
package advice

// Tier is the subscription tier of a requesting principal.
type Tier string

const (
	TierRestricted Tier = "restricted"
	TierPremium    Tier = "premium"
)

// Certification is the advisory certification level of a principal.
type Certification string

const (
	CertGeneral      Certification = "general"
	CertProfessional Certification = "professional"
	CertExpert       Certification = "expert"
)

// Identity is the requesting principal. Sourced externally (API caller or
// CLI flags); read-only for the duration of a pipeline run.
type Identity struct {
	ID            string        `json:"id"`
	Tier          Tier          `json:"tier"`
	OptIn         bool          `json:"opt_in"`
	Certification Certification `json:"certification"`
	Portfolios    []string      `json:"portfolios,omitempty"`
}

// OwnsPortfolio reports whether the identity owns the given portfolio.
func (id Identity) OwnsPortfolio(portfolioID string) bool {
	for _, p := range id.Portfolios {
		if p == portfolioID {
			return true
		}
	}
	return false
}
