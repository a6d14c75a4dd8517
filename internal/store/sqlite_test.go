package store

import (
	"context"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "sweep.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Reset(context.Background()))
	return st
}

func TestSQLite_InsertIfAbsent_Dedup(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// Same (id, lat, lon) five times with different timestamps: the
	// first row wins, later sightings are no-ops.
	for i := 0; i < 5; i++ {
		err := st.InsertIfAbsent(ctx, BrandOfo, int64(1000+i), "bike-1", 30.1, 104.1)
		require.NoError(t, err)
	}

	records, err := st.ReadAll(ctx, BrandOfo)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1000), records[0].CapturedAt)
	assert.Equal(t, "bike-1", records[0].BikeID)
}

func TestSQLite_InsertIfAbsent_DistinctCoordinatesKept(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// A vehicle that actually moved yields one row per position.
	require.NoError(t, st.InsertIfAbsent(ctx, BrandMobike, 1000, "bike-1", 30.1, 104.1))
	require.NoError(t, st.InsertIfAbsent(ctx, BrandMobike, 2000, "bike-1", 30.2, 104.2))

	records, err := st.ReadAll(ctx, BrandMobike)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestSQLite_BrandsIsolated(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertIfAbsent(ctx, BrandOfo, 1000, "bike-1", 30.1, 104.1))

	records, err := st.ReadAll(ctx, BrandMobike)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSQLite_Reset_DropsPriorRows(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertIfAbsent(ctx, BrandOfo, 1000, "bike-1", 30.1, 104.1))
	require.NoError(t, st.Reset(ctx))

	records, err := st.ReadAll(ctx, BrandOfo)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSQLite_UnknownBrandRejected(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.InsertIfAbsent(ctx, "lime", 1000, "bike-1", 30.1, 104.1)
	assert.Error(t, err)

	_, err = st.ReadAll(ctx, "lime")
	assert.Error(t, err)
}

func TestSQLite_ConcurrentWrites_NeverExceedDistinctTuples(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// 8 writers hammer a small tuple space with randomized
	// interleavings; the final row count must not exceed the number
	// of distinct (id, lat, lon) tuples.
	const writers = 8
	const writesPerWorker = 250

	distinct := make(map[[2]int]struct{})
	var distinctMu sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < writesPerWorker; n++ {
				id := rand.Intn(10)
				cell := rand.Intn(5)
				lat := 30.0 + float64(cell)*0.01
				lon := 104.0 + float64(cell)*0.01

				distinctMu.Lock()
				distinct[[2]int{id, cell}] = struct{}{}
				distinctMu.Unlock()

				err := st.InsertIfAbsent(ctx, BrandOfo, 1000, "bike-"+string(rune('a'+id)), lat, lon)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	records, err := st.ReadAll(ctx, BrandOfo)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(records), len(distinct))
}
