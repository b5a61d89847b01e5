package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordon-io/cordon/internal/advice"
	"github.com/cordon-io/cordon/internal/decision"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "audit.db"), testSigningKey)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord(id string) *Record {
	return &Record{
		ID:        id,
		RunID:     "run_abc123def456",
		Timestamp: time.Now().UTC(),
		UserID:    "user-1",
		Tier:      advice.TierPremium,
		Outcome:   OutcomeDenied,
		DeniedBy:  decision.FamilyQuery,
		DenyReason: decision.ReasonQueryLengthExceeded,
		Steps: []Step{
			{Perimeter: StepQueryValidation, Decision: decision.Denied(decision.SourceLocal, decision.ReasonQueryLengthExceeded)},
		},
		QueryLength: 1400,
		DurationMS:  12,
	}
}

func TestStore_AppendGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("aud_1")
	require.NoError(t, s.Append(ctx, rec))
	assert.NotEmpty(t, rec.Signature)

	got, err := s.Get(ctx, "aud_1")
	require.NoError(t, err)
	assert.Equal(t, rec.RunID, got.RunID)
	assert.Equal(t, OutcomeDenied, got.Outcome)
	assert.Equal(t, decision.FamilyQuery, got.DeniedBy)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, StepQueryValidation, got.Steps[0].Perimeter)

	_, err = s.Get(ctx, "aud_missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestStore_VerifyDetectsTampering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("aud_2")
	require.NoError(t, s.Append(ctx, rec))

	ok, err := s.Verify(ctx, "aud_2")
	require.NoError(t, err)
	assert.True(t, ok)

	// Rewrite the stored JSON with a different outcome but the old signature.
	_, err = s.db.ExecContext(ctx,
		`UPDATE audit_records SET record_json = REPLACE(record_json, '"denied"', '"completed"') WHERE id = ?`,
		"aud_2")
	require.NoError(t, err)

	ok, err = s.Verify(ctx, "aud_2")
	require.NoError(t, err)
	assert.False(t, ok, "modified record must fail verification")
}

func TestStore_ListFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := sampleRecord("aud_old")
	old.Timestamp = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, s.Append(ctx, old))

	fresh := sampleRecord("aud_fresh")
	fresh.UserID = "user-2"
	require.NoError(t, s.Append(ctx, fresh))

	all, err := s.List(ctx, "", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "aud_fresh", all[0].ID, "newest first")

	byUser, err := s.List(ctx, "user-2", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, "aud_fresh", byUser[0].ID)

	recent, err := s.List(ctx, "", time.Now().UTC().Add(-time.Hour), time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "aud_fresh", recent[0].ID)
}

func TestStore_Purge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := sampleRecord("aud_old")
	old.Timestamp = time.Now().UTC().AddDate(0, 0, -120)
	require.NoError(t, s.Append(ctx, old))
	require.NoError(t, s.Append(ctx, sampleRecord("aud_new")))

	n, err := s.Purge(ctx, time.Now().UTC().AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Get(ctx, "aud_old")
	assert.ErrorIs(t, err, ErrRecordNotFound)
	_, err = s.Get(ctx, "aud_new")
	assert.NoError(t, err)
}

func TestRetention_Sweep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := sampleRecord("aud_old")
	old.Timestamp = time.Now().UTC().AddDate(0, 0, -10)
	require.NoError(t, s.Append(ctx, old))

	r := NewRetention(s, 7)
	r.Sweep(ctx)

	_, err := s.Get(ctx, "aud_old")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestSigner_KeyValidation(t *testing.T) {
	_, err := NewSigner("short")
	require.Error(t, err)

	_, err = NewSigner(testSigningKey)
	require.NoError(t, err)

	// 64 hex chars decode to 32 bytes.
	_, err = NewSigner("aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899")
	require.NoError(t, err)
}
