package knowledge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordon-io/cordon/internal/advice"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "knowledge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_AddGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := advice.DocumentRef{
		ID:                    "doc-1",
		Title:                 "Bond Ladder Primer",
		Topic:                 "investment",
		Classification:        advice.DocRestricted,
		RequiredCertification: advice.CertProfessional,
	}
	require.NoError(t, s.Add(ctx, doc))

	got, err := s.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc, *got)

	_, err = s.Get(ctx, "doc-missing")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestStore_ListCandidates_OrderStable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids := []string{"doc-a", "doc-b", "doc-c"}
	for _, id := range ids {
		require.NoError(t, s.Add(ctx, advice.DocumentRef{
			ID: id, Title: id, Classification: advice.DocPublic,
		}))
	}

	docs, err := s.ListCandidates(ctx, advice.ClassAdviceSeeking, 10)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	for i, id := range ids {
		assert.Equal(t, id, docs[i].ID, "insertion order preserved")
	}
}

func TestStore_ListCandidates_InformationalOnlyPublic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, advice.DocumentRef{
		ID: "pub", Title: "Public Doc", Classification: advice.DocPublic,
	}))
	require.NoError(t, s.Add(ctx, advice.DocumentRef{
		ID: "conf", Title: "Confidential Doc", Classification: advice.DocConfidential,
		RequiredCertification: advice.CertExpert,
	}))

	docs, err := s.ListCandidates(ctx, advice.ClassInformational, 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "pub", docs[0].ID)

	docs, err = s.ListCandidates(ctx, advice.ClassAdviceSeeking, 10)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestStore_ListCandidates_Limit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Add(ctx, advice.DocumentRef{
			ID: string(rune('a' + i)), Title: "doc", Classification: advice.DocPublic,
		}))
	}

	docs, err := s.ListCandidates(ctx, advice.ClassAdviceSeeking, 2)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestStore_Seed_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Seed(ctx, DefaultCatalog)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultCatalog), n)

	n, err = s.Seed(ctx, DefaultCatalog)
	require.NoError(t, err)
	assert.Zero(t, n, "second seed inserts nothing")
}
