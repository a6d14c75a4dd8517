package crawl

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfleet/bikesweep/internal/config"
	"github.com/openfleet/bikesweep/internal/geo"
	"github.com/openfleet/bikesweep/internal/store"
)

type fakeFetcher struct {
	calls atomic.Int64
	fn    func(lat, lng float64) ([]Bike, error)
}

func (f *fakeFetcher) NearbyBikes(_ context.Context, lat, lng float64) ([]Bike, error) {
	f.calls.Add(1)
	return f.fn(lat, lng)
}

type fakeExporter struct {
	mu     sync.Mutex
	brands []string
	err    error
}

func (f *fakeExporter) Export(_ context.Context, _ store.Store, brand string, _ time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.brands = append(f.brands, brand)
	return "/tmp/" + brand + ".csv", nil
}

func (f *fakeExporter) exported() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.brands...)
}

func testConfig() *config.Config {
	return &config.Config{
		Provider: config.ProviderConfig{Token: "demo", CityID: 75, TimeoutSecs: 5},
		Sweep: config.SweepConfig{
			TopLeft:     config.Corner{Lat: 2, Lng: 0},
			BottomRight: config.Corner{Lat: 0, Lng: 2},
			Offset:      1,
			Workers:     8,
			Coord:       "gcj02",
		},
	}
}

func newCrawlTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "sweep.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func TestSweep_VisitsEveryPointAndExports(t *testing.T) {
	st := newCrawlTestStore(t)

	// Every grid point sees the same two stationary bikes, so four
	// queries collapse to one row per brand.
	fetcher := &fakeFetcher{fn: func(lat, lng float64) ([]Bike, error) {
		return []Bike{
			{ID: "b1", Brand: "ofo", Lat: 30.5, Lng: 104.0},
			{ID: "b2", Brand: "bluegogo", Lat: 30.6, Lng: 104.1},
		}, nil
	}}
	exporter := &fakeExporter{}

	c, err := New(testConfig(), st, fetcher, exporter)
	require.NoError(t, err)
	require.NoError(t, c.Sweep(context.Background()))

	// 2x2 grid.
	assert.Equal(t, int64(4), fetcher.calls.Load())

	ofo, err := st.ReadAll(context.Background(), store.BrandOfo)
	require.NoError(t, err)
	assert.Len(t, ofo, 1)

	// Unrecognized brands land in the catch-all table.
	other, err := st.ReadAll(context.Background(), store.BrandMobike)
	require.NoError(t, err)
	assert.Len(t, other, 1)

	assert.Equal(t, []string{store.BrandOfo, store.BrandMobike}, exporter.exported())
}

func TestSweep_InvalidTokenSkipsExport(t *testing.T) {
	st := newCrawlTestStore(t)
	fetcher := &fakeFetcher{fn: func(lat, lng float64) ([]Bike, error) {
		return nil, eris.Wrap(ErrInvalidToken, "status 403")
	}}
	exporter := &fakeExporter{}

	c, err := New(testConfig(), st, fetcher, exporter)
	require.NoError(t, err)

	err = c.Sweep(context.Background())
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidToken))
	assert.Empty(t, exporter.exported())
}

func TestSweep_TransientErrorsDoNotAbort(t *testing.T) {
	st := newCrawlTestStore(t)
	fetcher := &fakeFetcher{fn: func(lat, lng float64) ([]Bike, error) {
		return nil, eris.Wrap(ErrBadStatus, "status 502")
	}}
	exporter := &fakeExporter{}

	c, err := New(testConfig(), st, fetcher, exporter)
	require.NoError(t, err)

	// Every point drops, the sweep still drains and exports.
	require.NoError(t, c.Sweep(context.Background()))
	assert.Equal(t, int64(4), fetcher.calls.Load())
	assert.Equal(t, []string{store.BrandOfo, store.BrandMobike}, exporter.exported())

	ofo, err := st.ReadAll(context.Background(), store.BrandOfo)
	require.NoError(t, err)
	assert.Empty(t, ofo)
}

func TestSweep_AppliesCoordinateTransform(t *testing.T) {
	st := newCrawlTestStore(t)
	fetcher := &fakeFetcher{fn: func(lat, lng float64) ([]Bike, error) {
		return []Bike{{ID: "b1", Brand: "ofo", Lat: 30.67, Lng: 104.06}}, nil
	}}

	cfg := testConfig()
	cfg.Sweep.Coord = "bd09"

	c, err := New(cfg, st, fetcher, &fakeExporter{})
	require.NoError(t, err)
	require.NoError(t, c.Sweep(context.Background()))

	records, err := st.ReadAll(context.Background(), store.BrandOfo)
	require.NoError(t, err)
	require.Len(t, records, 1)

	wantLng, wantLat := geo.Transform(104.06, 30.67, geo.BD09)
	assert.Equal(t, wantLat, records[0].Lat)
	assert.Equal(t, wantLng, records[0].Lon)
}

func TestSweep_ResetsTablesEachSweep(t *testing.T) {
	st := newCrawlTestStore(t)
	fetcher := &fakeFetcher{fn: func(lat, lng float64) ([]Bike, error) {
		return []Bike{{ID: "b1", Brand: "ofo", Lat: 30.5, Lng: 104.0}}, nil
	}}

	c, err := New(testConfig(), st, fetcher, &fakeExporter{})
	require.NoError(t, err)

	require.NoError(t, c.Sweep(context.Background()))
	require.NoError(t, c.Sweep(context.Background()))

	// The second sweep starts from empty tables, so the count does
	// not accumulate across sweeps.
	records, err := st.ReadAll(context.Background(), store.BrandOfo)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRun_SingleSweepWhenNotRepeating(t *testing.T) {
	st := newCrawlTestStore(t)
	fetcher := &fakeFetcher{fn: func(lat, lng float64) ([]Bike, error) {
		return nil, nil
	}}

	c, err := New(testConfig(), st, fetcher, &fakeExporter{})
	require.NoError(t, err)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, int64(4), fetcher.calls.Load())
}

func TestRun_RepeatLoopStopsOnCancel(t *testing.T) {
	st := newCrawlTestStore(t)
	fetcher := &fakeFetcher{fn: func(lat, lng float64) ([]Bike, error) {
		return nil, nil
	}}

	cfg := testConfig()
	cfg.Sweep.AlwaysRun = true
	cfg.Sweep.WaitTimeSecs = 3600

	c, err := New(cfg, st, fetcher, &fakeExporter{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Let the first sweep finish, then cancel during the wait.
	require.Eventually(t, func() bool {
		return fetcher.calls.Load() == 4
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestNew_RejectsUnknownCoordSystem(t *testing.T) {
	cfg := testConfig()
	cfg.Sweep.Coord = "mercator"

	_, err := New(cfg, newCrawlTestStore(t), &fakeFetcher{}, &fakeExporter{})
	assert.Error(t, err)
}

func TestSweep_ExportFailureDoesNotError(t *testing.T) {
	st := newCrawlTestStore(t)
	fetcher := &fakeFetcher{fn: func(lat, lng float64) ([]Bike, error) {
		return nil, nil
	}}
	exporter := &fakeExporter{err: eris.New("disk full")}

	c, err := New(testConfig(), st, fetcher, exporter)
	require.NoError(t, err)

	// Export failures are logged, not fatal.
	assert.NoError(t, c.Sweep(context.Background()))
}
