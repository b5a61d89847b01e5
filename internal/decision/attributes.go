package decision

import (
	"fmt"

	"github.com/cordon-io/cordon/internal/advice"
)

// Resource type names understood by the policy authority.
const (
	ResourceQuery    = "financial_query"
	ResourceDocument = "financial_document"
	ResourceResponse = "financial_response"
)

// QueryAttributes is the attribute payload for a financial_query check.
type QueryAttributes struct {
	OptIn              bool                  `json:"opt_in"`
	CertificationLevel advice.Certification  `json:"certification_level"`
	Classification     advice.Classification `json:"query_classification"`
	Length             int                   `json:"length"`
}

// NewQueryAttributes validates and constructs query attributes.
func NewQueryAttributes(id advice.Identity, q advice.Query) (QueryAttributes, error) {
	if id.ID == "" {
		return QueryAttributes{}, fmt.Errorf("query attributes: identity id is required")
	}
	if q.Classification == "" {
		return QueryAttributes{}, fmt.Errorf("query attributes: classification not set")
	}
	return QueryAttributes{
		OptIn:              id.OptIn,
		CertificationLevel: id.Certification,
		Classification:     q.Classification,
		Length:             q.Length(),
	}, nil
}

// DocumentAttributes is the attribute payload for a financial_document check.
type DocumentAttributes struct {
	Classification     advice.DocClass      `json:"classification"`
	CertificationLevel advice.Certification `json:"certification_level"`
}

// NewDocumentAttributes validates and constructs document attributes.
func NewDocumentAttributes(id advice.Identity, doc advice.DocumentRef) (DocumentAttributes, error) {
	if doc.ID == "" {
		return DocumentAttributes{}, fmt.Errorf("document attributes: document id is required")
	}
	if doc.Classification == "" {
		return DocumentAttributes{}, fmt.Errorf("document attributes: classification is required")
	}
	return DocumentAttributes{
		Classification:     doc.Classification,
		CertificationLevel: id.Certification,
	}, nil
}

// ActionAttributes is the attribute payload for a portfolio or external_api
// check.
type ActionAttributes struct {
	Kind     advice.ActionKind `json:"kind"`
	TargetID string            `json:"target_id,omitempty"`
	ValueEUR float64           `json:"value_eur"`
	Tier     advice.Tier       `json:"tier"`
}

// NewActionAttributes validates and constructs action attributes.
func NewActionAttributes(id advice.Identity, a advice.ProposedAction) (ActionAttributes, error) {
	if a.Kind.ResourceType() == "" {
		return ActionAttributes{}, fmt.Errorf("action attributes: unknown action kind %q", a.Kind)
	}
	if a.ValueEUR < 0 {
		return ActionAttributes{}, fmt.Errorf("action attributes: negative value %.2f", a.ValueEUR)
	}
	return ActionAttributes{
		Kind:     a.Kind,
		TargetID: a.TargetID,
		ValueEUR: a.ValueEUR,
		Tier:     id.Tier,
	}, nil
}

// ResponseAttributes is the attribute payload for a financial_response check.
type ResponseAttributes struct {
	AdviceDetected     bool                 `json:"advice_detected"`
	CertificationLevel advice.Certification `json:"certification_level"`
	RiskLevel          advice.RiskLevel     `json:"risk_level"`
}

// NewResponseAttributes validates and constructs response attributes.
func NewResponseAttributes(id advice.Identity, adviceDetected bool, risk advice.RiskLevel) (ResponseAttributes, error) {
	if risk == "" {
		return ResponseAttributes{}, fmt.Errorf("response attributes: risk level is required")
	}
	return ResponseAttributes{
		AdviceDetected:     adviceDetected,
		CertificationLevel: id.Certification,
		RiskLevel:          risk,
	}, nil
}
