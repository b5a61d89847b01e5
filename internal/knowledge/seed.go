package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/cordon-io/cordon/internal/advice"
)

// DefaultCatalog is the starter document set installed by
// `cordon serve --seed-knowledge`.
// It spans all three classification levels so a fresh deployment exercises
// the access perimeter immediately.
var DefaultCatalog = []advice.DocumentRef{
	{ID: "doc-savings-basics", Title: "Savings Account Basics", Topic: "investment",
		Classification: advice.DocPublic},
	{ID: "doc-index-funds", Title: "Introduction to Index Funds", Topic: "investment",
		Classification: advice.DocPublic},
	{ID: "doc-tax-2026", Title: "Capital Gains Tax Guide 2026", Topic: "tax",
		Classification: advice.DocRestricted, RequiredCertification: advice.CertProfessional},
	{ID: "doc-retirement-modeling", Title: "Retirement Drawdown Modeling", Topic: "retirement",
		Classification: advice.DocRestricted, RequiredCertification: advice.CertProfessional},
	{ID: "doc-structured-products", Title: "Structured Products Risk Memo", Topic: "investment",
		Classification: advice.DocConfidential, RequiredCertification: advice.CertExpert},
}

// Seed installs docs into the catalog, skipping entries that already exist.
func (s *Store) Seed(ctx context.Context, docs []advice.DocumentRef) (int, error) {
	inserted := 0
	for _, doc := range docs {
		if _, err := s.Get(ctx, doc.ID); err == nil {
			continue
		} else if !errors.Is(err, ErrDocumentNotFound) {
			return inserted, err
		}
		if err := s.Add(ctx, doc); err != nil {
			return inserted, fmt.Errorf("seeding catalog: %w", err)
		}
		inserted++
	}
	return inserted, nil
}
