package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// brandTable guards against any brand string that is not one of the
// fixed tables reaching SQL text.
func brandTable(brand string) (string, error) {
	for _, b := range Brands {
		if brand == b {
			return b, nil
		}
	}
	return "", eris.Errorf("store: unknown brand %q", brand)
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, brand := range Brands {
		drop := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, brand)
		if _, err := s.db.ExecContext(ctx, drop); err != nil {
			return eris.Wrapf(err, "sqlite: drop %s", brand)
		}
		create := fmt.Sprintf(`CREATE TABLE %s (
			captured_at INTEGER NOT NULL,
			bike_id     TEXT NOT NULL,
			lat         REAL NOT NULL,
			lon         REAL NOT NULL,
			PRIMARY KEY (bike_id, lat, lon)
		)`, brand)
		if _, err := s.db.ExecContext(ctx, create); err != nil {
			return eris.Wrapf(err, "sqlite: create %s", brand)
		}
	}
	return nil
}

func (s *SQLiteStore) InsertIfAbsent(ctx context.Context, brand string, capturedAt int64, bikeID string, lat, lon float64) error {
	table, err := brandTable(brand)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`INSERT OR IGNORE INTO %s (captured_at, bike_id, lat, lon) VALUES (?, ?, ?, ?)`, table)
	if _, err := s.db.ExecContext(ctx, query, capturedAt, bikeID, lat, lon); err != nil {
		return eris.Wrapf(err, "sqlite: insert into %s", table)
	}
	return nil
}

func (s *SQLiteStore) ReadAll(ctx context.Context, brand string) ([]Record, error) {
	table, err := brandTable(brand)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`SELECT captured_at, bike_id, lat, lon FROM %s`, table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read %s", table)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.CapturedAt, &r.BikeID, &r.Lat, &r.Lon); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", table)
		}
		records = append(records, r)
	}
	return records, eris.Wrapf(rows.Err(), "sqlite: iterate %s", table)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
