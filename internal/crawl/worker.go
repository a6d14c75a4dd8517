package crawl

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/openfleet/bikesweep/internal/geo"
	"github.com/openfleet/bikesweep/internal/store"
)

// visit processes one grid point: query, transform, store, account.
// Only an invalid token propagates an error; every other failure drops
// the point and lets the sweep continue.
func (c *Coordinator) visit(ctx context.Context, session *Session, pt geo.Point, log *zap.Logger) error {
	bikes, err := c.client.NearbyBikes(ctx, pt.Lat, pt.Lng)
	if err != nil {
		if eris.Is(err, ErrInvalidToken) {
			return err
		}
		progress := session.Drop(dropReasonFor(err))
		log.Warn("grid point dropped",
			zap.Float64("lat", pt.Lat),
			zap.Float64("lng", pt.Lng),
			zap.Error(err),
		)
		logProgress(log, pt, progress)
		return nil
	}

	capturedAt := time.Now().UnixMilli()
	for _, b := range bikes {
		lng, lat := geo.Transform(b.Lng, b.Lat, c.system)
		if err := c.store.InsertIfAbsent(ctx, store.BrandFor(b.Brand), capturedAt, b.ID, lat, lng); err != nil {
			// Storage errors are swallowed per record; the sweep is
			// availability-first.
			log.Warn("store insert failed",
				zap.String("bike", b.ID),
				zap.Error(err),
			)
		}
	}

	progress := session.Complete(len(bikes))
	logProgress(log, pt, progress)
	return nil
}

// dropReasonFor tags a per-point failure for the session tallies.
func dropReasonFor(err error) string {
	switch {
	case eris.Is(err, ErrBadPayload):
		return DropParse
	case eris.Is(err, ErrBadStatus):
		return DropStatus
	default:
		return DropNetwork
	}
}

// logProgress emits the per-point progress line.
func logProgress(log *zap.Logger, pt geo.Point, p Progress) {
	log.Info("progress",
		zap.Float64("lat", pt.Lat),
		zap.Float64("lng", pt.Lng),
		zap.Int64("bikes", p.RawRecords),
		zap.Float64("percent", p.Percent),
		zap.Float64("records_per_min", p.RecordsPerMinute),
		zap.Duration("est_total", p.EstimatedTotal),
		zap.Duration("est_remaining", p.Remaining),
	)
}
