package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool the store needs. pgxmock
// satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresStore implements Store using pgx. Writes are still
// serialized under one mutex: the single-lock discipline is part of
// the store contract, not a property of the backend.
type PostgresStore struct {
	mu   sync.Mutex
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 4
	pgxCfg.MinConns = 1
	pgxCfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, brand := range Brands {
		drop := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, brand)
		if _, err := s.pool.Exec(ctx, drop); err != nil {
			return eris.Wrapf(err, "postgres: drop %s", brand)
		}
		create := fmt.Sprintf(`CREATE TABLE %s (
			captured_at BIGINT NOT NULL,
			bike_id     TEXT NOT NULL,
			lat         DOUBLE PRECISION NOT NULL,
			lon         DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (bike_id, lat, lon)
		)`, brand)
		if _, err := s.pool.Exec(ctx, create); err != nil {
			return eris.Wrapf(err, "postgres: create %s", brand)
		}
	}
	return nil
}

func (s *PostgresStore) InsertIfAbsent(ctx context.Context, brand string, capturedAt int64, bikeID string, lat, lon float64) error {
	table, err := brandTable(brand)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`INSERT INTO %s (captured_at, bike_id, lat, lon) VALUES ($1, $2, $3, $4)
		ON CONFLICT (bike_id, lat, lon) DO NOTHING`, table)
	if _, err := s.pool.Exec(ctx, query, capturedAt, bikeID, lat, lon); err != nil {
		return eris.Wrapf(err, "postgres: insert into %s", table)
	}
	return nil
}

func (s *PostgresStore) ReadAll(ctx context.Context, brand string) ([]Record, error) {
	table, err := brandTable(brand)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`SELECT captured_at, bike_id, lat, lon FROM %s`, table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: read %s", table)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.CapturedAt, &r.BikeID, &r.Lat, &r.Lon); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", table)
		}
		records = append(records, r)
	}
	return records, eris.Wrapf(rows.Err(), "postgres: iterate %s", table)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
