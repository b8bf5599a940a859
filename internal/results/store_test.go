package results

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "trials.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func sampleTrial(rate float64, outcome string) *TrialRecord {
	return &TrialRecord{
		RunID:       "run-1",
		Backend:     "shortfin",
		Device:      "hip",
		NumPrompts:  10,
		RequestRate: rate,
		OutputFile:  "shortfin_10_4.jsonl",
		Outcome:     outcome,
		Summary: TrialSummary{
			TotalRequests:    10,
			TotalTokens:      320,
			OutputThroughput: 32 * rate,
			AvgLatencyMs:     450,
		},
	}
}

func TestStoreSaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := sampleTrial(4, "passed")
	require.NoError(t, store.Save(ctx, rec))
	assert.NotEmpty(t, rec.ID, "Save assigns an ID")
	assert.False(t, rec.Timestamp.IsZero(), "Save assigns a timestamp")

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "shortfin", got.Backend)
	assert.Equal(t, 4.0, got.RequestRate)
	assert.Equal(t, 320, got.Summary.TotalTokens)
}

func TestStoreGet_NotFound(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Get(context.Background(), "no-such-trial")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreListByRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, rate := range []float64{16, 1, 4} {
		require.NoError(t, store.Save(ctx, sampleTrial(rate, "passed")))
	}
	other := sampleTrial(2, "passed")
	other.RunID = "run-2"
	require.NoError(t, store.Save(ctx, other))

	recs, err := store.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, 1.0, recs[0].RequestRate)
	assert.Equal(t, 16.0, recs[2].RequestRate)
}

func TestStoreListByBackend(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleTrial(1, "passed")))
	vllm := sampleTrial(1, "passed")
	vllm.Backend = "vllm"
	require.NoError(t, store.Save(ctx, vllm))

	recs, err := store.ListByBackend(ctx, "shortfin")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "shortfin", recs[0].Backend)
}

func TestStoreBestThroughput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleTrial(1, "passed")))
	require.NoError(t, store.Save(ctx, sampleTrial(8, "passed")))
	failed := sampleTrial(32, "failed")
	failed.Summary.OutputThroughput = 9999
	require.NoError(t, store.Save(ctx, failed))

	best, err := store.BestThroughput(ctx, "shortfin")
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, 8.0, best.RequestRate, "failed trials are excluded")

	none, err := store.BestThroughput(ctx, "tgi")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStoreListRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Save(ctx, sampleTrial(float64(i+1), "passed")))
	}

	recs, err := store.ListRecent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}
