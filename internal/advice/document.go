package advice

// DocClass is the classification level of a knowledge document.
type DocClass string

const (
	DocPublic       DocClass = "public"
	DocRestricted   DocClass = "restricted"
	DocConfidential DocClass = "confidential"
)

// DocumentRef describes a knowledge artifact. The catalog owns storage and
// relevance ranking; the pipeline only reads and filters these descriptors.
type DocumentRef struct {
	ID                    string        `json:"id"`
	Title                 string        `json:"title"`
	Topic                 string        `json:"topic,omitempty"`
	Classification        DocClass      `json:"classification"`
	RequiredCertification Certification `json:"required_certification"`
}
