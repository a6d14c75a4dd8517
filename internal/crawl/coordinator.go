package crawl

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openfleet/bikesweep/internal/config"
	"github.com/openfleet/bikesweep/internal/geo"
	"github.com/openfleet/bikesweep/internal/store"
)

// Fetcher issues one provider query per grid point.
type Fetcher interface {
	NearbyBikes(ctx context.Context, lat, lng float64) ([]Bike, error)
}

// Exporter writes one brand's table to its output artifact and returns
// the artifact path.
type Exporter interface {
	Export(ctx context.Context, st store.Store, brand string, startedAt time.Time) (string, error)
}

// Coordinator owns the worker pool and sequences the
// sweep → store → export lifecycle, optionally repeating.
type Coordinator struct {
	cfg      *config.Config
	store    store.Store
	client   Fetcher
	exporter Exporter
	system   geo.System
}

// New builds a Coordinator. The coordinate system is resolved here, so
// a bad enum fails before any sweep starts.
func New(cfg *config.Config, st store.Store, client Fetcher, exporter Exporter) (*Coordinator, error) {
	system, err := geo.ParseSystem(cfg.Sweep.Coord)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		cfg:      cfg,
		store:    st,
		client:   client,
		exporter: exporter,
		system:   system,
	}, nil
}

// Run executes sweeps until the always_run flag says stop or the
// context is cancelled. Each iteration gets a fresh session and
// freshly recreated tables; export has already persisted the previous
// iteration's result.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		if err := c.Sweep(ctx); err != nil {
			return err
		}
		if !c.cfg.Sweep.AlwaysRun {
			return nil
		}

		wait := c.cfg.Sweep.WaitTime()
		zap.L().Info("waiting before next sweep", zap.Duration("wait", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Sweep runs one build → dispatch → drain → export cycle. A fatal
// provider auth failure cancels the pool and returns without
// exporting; everything else is dropped per point and the sweep
// finishes.
func (c *Coordinator) Sweep(ctx context.Context) error {
	// Build: grid first, so geometry errors precede any table churn.
	points, err := geo.Grid(c.cfg.Sweep.Rect(), c.cfg.Sweep.Offset)
	if err != nil {
		return err
	}
	if err := c.store.Reset(ctx); err != nil {
		return eris.Wrap(err, "sweep: reset tables")
	}

	session := NewSession(len(points))
	log := zap.L().With(zap.String("sweep", session.ID))
	log.Info("sweep started",
		zap.Int("grid_points", session.Total),
		zap.Int("workers", c.cfg.Sweep.Workers),
		zap.String("coord", c.system.String()),
	)

	// Dispatch and drain. The group limit is the single concurrency
	// knob; g.Wait is the sweep's only synchronization barrier.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Sweep.Workers)
	for _, pt := range points {
		pt := pt
		g.Go(func() error {
			return c.visit(gctx, session, pt, log)
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("sweep aborted, skipping export", zap.Error(err))
		return err
	}

	log.Info("sweep drained",
		zap.Int64("raw_records", session.Progress().RawRecords),
		zap.Any("dropped", session.DropCounts()),
		zap.Duration("elapsed", time.Since(session.StartedAt)),
	)

	// Export sequentially, one artifact per brand. A failed brand does
	// not affect the others.
	for _, brand := range store.Brands {
		path, err := c.exporter.Export(ctx, c.store, brand, session.StartedAt)
		if err != nil {
			log.Error("export failed", zap.String("brand", brand), zap.Error(err))
			continue
		}
		log.Info("exported", zap.String("brand", brand), zap.String("path", path))
	}
	return nil
}
