// Package export serializes brand tables to timestamped CSV
// artifacts, optionally gzip-compressed.
package export

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/openfleet/bikesweep/internal/config"
	"github.com/openfleet/bikesweep/internal/store"
)

// timeLayout renders the capture timestamp with its UTC offset so the
// epoch value survives a round trip through the CSV.
const timeLayout = "2006-01-02 15:04:05-07:00"

// Exporter writes brand tables as CSV files under a per-day directory.
type Exporter struct {
	dir      string
	loc      *time.Location
	compress bool
}

// New builds an Exporter. The timezone must be a valid IANA name.
func New(cfg config.ExportConfig) (*Exporter, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "export: load timezone %q", cfg.Timezone)
	}
	return &Exporter{
		dir:      cfg.Dir,
		loc:      loc,
		compress: cfg.Compress,
	}, nil
}

// Export reads every record for brand and writes
// <dir>/<yyyymmdd>/<yyyymmdd-HHMMSS>-<brand>.csv[.gz], columns
// [datetime, vehicle id, lat, lon], no header, in store scan order.
// The path components come from the sweep's start time.
func (e *Exporter) Export(ctx context.Context, st store.Store, brand string, startedAt time.Time) (string, error) {
	records, err := st.ReadAll(ctx, brand)
	if err != nil {
		return "", eris.Wrapf(err, "export: read %s", brand)
	}

	dayDir := filepath.Join(e.dir, startedAt.Format("20060102"))
	if err := os.MkdirAll(dayDir, 0o755); err != nil {
		return "", eris.Wrapf(err, "export: create %s", dayDir)
	}

	name := fmt.Sprintf("%s-%s.csv", startedAt.Format("20060102-150405"), brand)
	if e.compress {
		name += ".gz"
	}
	path := filepath.Join(dayDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", eris.Wrapf(err, "export: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	var w io.Writer = f
	var gz *gzip.Writer
	if e.compress {
		gz = gzip.NewWriter(f)
		w = gz
	}

	cw := csv.NewWriter(w)
	for _, r := range records {
		row := []string{
			time.UnixMilli(r.CapturedAt).In(e.loc).Format(timeLayout),
			r.BikeID,
			strconv.FormatFloat(r.Lat, 'f', -1, 64),
			strconv.FormatFloat(r.Lon, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return "", eris.Wrapf(err, "export: write row for %s", brand)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", eris.Wrapf(err, "export: flush %s", path)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return "", eris.Wrapf(err, "export: close gzip %s", path)
		}
	}
	if err := f.Close(); err != nil {
		return "", eris.Wrapf(err, "export: close %s", path)
	}
	return path, nil
}
