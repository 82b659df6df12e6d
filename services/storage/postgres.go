package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sjsage522/estateworker/internal/geo"
	"sjsage522/estateworker/internal/listing"
	"sjsage522/estateworker/internal/zone"
	"sjsage522/estateworker/pkg/errors"
	"sjsage522/estateworker/services/audit"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS location_info (
	id         BIGSERIAL PRIMARY KEY,
	zone       TEXT NOT NULL,
	country    TEXT NOT NULL DEFAULT '',
	province   TEXT NOT NULL DEFAULT '',
	city       TEXT NOT NULL DEFAULT '',
	town       TEXT NOT NULL DEFAULT '',
	street     TEXT NOT NULL DEFAULT '',
	road       TEXT NOT NULL DEFAULT '',
	address    TEXT NOT NULL,
	lat        DOUBLE PRECISION,
	lng        DOUBLE PRECISION,
	provider   TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (zone, address)
);

CREATE TABLE IF NOT EXISTS house (
	id             BIGSERIAL PRIMARY KEY,
	identity_key   TEXT NOT NULL UNIQUE,
	location_id    BIGINT REFERENCES location_info (id),
	source         TEXT NOT NULL,
	data_source    TEXT,
	type           TEXT,
	type_raw       TEXT,
	building_name  TEXT,
	estate_name    TEXT,
	flat           TEXT,
	floor          TEXT,
	unit           TEXT,
	developer      TEXT,
	area           DOUBLE PRECISION,
	deal_price     BIGINT,
	deal_date      DATE,
	source_url     TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ingest_audit (
	id         BIGSERIAL PRIMARY KEY,
	run_id     TEXT NOT NULL,
	source     TEXT,
	stage      TEXT NOT NULL,
	error_type TEXT,
	hint       TEXT,
	reason     TEXT,
	created_at TIMESTAMPTZ NOT NULL
);`

// PostgresStore implements Store and audit.Sink on a pgx pool
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPool parses dsn and connects a pool capped at maxConns
func OpenPool(ctx context.Context, dsn string, maxConns int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.NewConfiguration("parse POSTGRES_DSN", err)
	}
	if maxConns <= 0 {
		maxConns = 2
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.NewStorage("postgres", "connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.NewStorage("postgres", "ping", err)
	}
	return pool, nil
}

// NewPostgresStore wraps an open pool
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables owned by the store
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return errors.NewStorage("postgres", "migrate", err)
	}
	return nil
}

// Close releases the pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Upsert inserts the location (or fills its missing coordinates) and the
// house row in one transaction. An existing identity key is left untouched.
func (s *PostgresStore) Upsert(ctx context.Context, l *listing.Listing, loc *geo.Result) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, errors.NewStorage(l.Source, "begin", err)
	}
	defer tx.Rollback(ctx)

	locationID, err := upsertLocation(ctx, tx, l, loc)
	if err != nil {
		return false, errors.NewStorage(l.Source, "upsert location", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO house
			(identity_key, location_id, source, data_source, type, type_raw, building_name, estate_name,
			 flat, floor, unit, developer, area, deal_price, deal_date, source_url)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NULLIF($16, ''))
		ON CONFLICT (identity_key) DO NOTHING`,
		l.IdentityKey(), locationID, l.Source, l.DataSource, l.Type, l.TypeRaw, l.BuildingName, l.EstateName,
		l.Flat, l.Floor, l.Unit, l.Developer, l.Area, l.DealPrice, l.DealDate, l.SourceURL,
	)
	if err != nil {
		return false, errors.NewStorage(l.Source, "insert house", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, errors.NewStorage(l.Source, "commit", err)
	}
	return tag.RowsAffected() == 1, nil
}

func upsertLocation(ctx context.Context, tx pgx.Tx, l *listing.Listing, loc *geo.Result) (*int64, error) {
	key := LocalityOf(l)
	if key.Empty() {
		return nil, nil
	}
	profile, _ := zone.Lookup(l.Zone)

	var lat, lng *float64
	var provider *string
	if loc != nil {
		lat, lng, provider = &loc.Lat, &loc.Lng, &loc.Provider
	}

	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO location_info (zone, country, province, city, town, street, road, address, lat, lng, provider)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (zone, address) DO UPDATE SET
			lat      = COALESCE(location_info.lat, EXCLUDED.lat),
			lng      = COALESCE(location_info.lng, EXCLUDED.lng),
			provider = COALESCE(location_info.provider, EXCLUDED.provider)
		RETURNING id`,
		key.Zone, profile.Country, profile.Province, profile.City, key.Town, key.Street, key.Road, key.Address, lat, lng, provider,
	).Scan(&id)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// LookupLocation returns coordinates for the listing's address when a
// geocoded location row exists.
func (s *PostgresStore) LookupLocation(ctx context.Context, l *listing.Listing) (zone.Coordinates, bool, error) {
	key := LocalityOf(l)
	if key.Empty() {
		return zone.Coordinates{}, false, nil
	}

	var c zone.Coordinates
	err := s.pool.QueryRow(ctx, `
		SELECT lat, lng FROM location_info
		WHERE zone = $1 AND address = $2 AND lat IS NOT NULL AND lng IS NOT NULL`,
		key.Zone, key.Address,
	).Scan(&c.Lat, &c.Lng)
	if err == pgx.ErrNoRows {
		return zone.Coordinates{}, false, nil
	}
	if err != nil {
		return zone.Coordinates{}, false, errors.NewStorage(l.Source, "lookup location", err)
	}
	return c, true, nil
}

// Record implements audit.Sink
func (s *PostgresStore) Record(ctx context.Context, e audit.Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_audit (run_id, source, stage, error_type, hint, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.RunID, e.Source, e.Stage, e.ErrorType, e.Hint, summarize(e), e.Time,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func summarize(e audit.Entry) string {
	if len(e.Counts) == 0 {
		return e.Reason
	}
	return strings.TrimSpace(fmt.Sprintf("%s %v", e.Reason, e.Counts))
}
