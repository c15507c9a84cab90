package report

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaistahir/gridloop/internal/loop"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	sum := loop.Summary{
		Start:    start,
		Duration: 42 * time.Millisecond,
		Outcome:  loop.OutcomeApplied,
		Input: &loop.CycleInput{
			StepSeconds:  300,
			GridDrawnKWh: 1.25,
			StorageSOC:   62.5,
			OutdoorTempC: 3.5,
		},
		Result: &loop.CycleResult{
			RoomTempConfig:     map[string]float64{"kitchen": 21},
			StorageSOCForecast: 64,
		},
	}
	require.NoError(t, store.Record(ctx, sum))

	got, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.True(t, got[0].Start.Equal(start))
	assert.Equal(t, loop.OutcomeApplied, got[0].Outcome)
	assert.Equal(t, 42*time.Millisecond, got[0].Duration)
	require.NotNil(t, got[0].Input)
	assert.Equal(t, 300, got[0].Input.StepSeconds)
	assert.InDelta(t, 62.5, got[0].Input.StorageSOC, 1e-9)
	require.NotNil(t, got[0].Result)
	assert.InDelta(t, 64.0, got[0].Result.StorageSOCForecast, 1e-9)
	assert.Equal(t, 21.0, got[0].Result.RoomTempConfig["kitchen"])
}

func TestStoreFailedCycleWithoutInput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, loop.Summary{
		Start:   time.Now(),
		Outcome: loop.OutcomeFailed,
		Err:     "meter unreachable",
	}))

	got, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, loop.OutcomeFailed, got[0].Outcome)
	assert.Equal(t, "meter unreachable", got[0].Err)
	assert.Nil(t, got[0].Input)
	assert.Nil(t, got[0].Result)
}

func TestStoreListRecentOrderAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, loop.Summary{
			Start:   base.Add(time.Duration(i) * time.Minute),
			Outcome: loop.OutcomeApplied,
		}))
	}

	got, err := store.ListRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Start.After(got[1].Start), "newest first")
	assert.True(t, got[1].Start.After(got[2].Start))
	assert.True(t, got[0].Start.Equal(base.Add(4*time.Minute)))
}

func TestStoreListRecentEmpty(t *testing.T) {
	store := newTestStore(t)

	got, err := store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got, "empty history must encode as [] not null")
}

type failingSink struct{ err error }

func (s failingSink) Record(ctx context.Context, sum loop.Summary) error { return s.err }

type countingSink struct{ n int }

func (s *countingSink) Record(ctx context.Context, sum loop.Summary) error {
	s.n++
	return nil
}

func TestMultiDeliversToAllSinksDespiteErrors(t *testing.T) {
	boom := errors.New("disk full")
	counter := &countingSink{}
	m := Multi{failingSink{err: boom}, counter}

	err := m.Record(context.Background(), loop.Summary{Outcome: loop.OutcomeApplied})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, counter.n, "later sinks still receive the record")
}
