package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS observations (
	id               TEXT    NOT NULL,
	dedupe_key       TEXT    NOT NULL UNIQUE,
	location_key     TEXT    NOT NULL,
	location_name    TEXT    NOT NULL,
	latitude         REAL    NOT NULL,
	longitude        REAL    NOT NULL,
	recorded_at      INTEGER NOT NULL,
	temperature_c    REAL    NOT NULL,
	humidity_pct     REAL    NOT NULL,
	precipitation_mm REAL    NOT NULL,
	wind_speed_ms    REAL    NOT NULL,
	pressure_hpa     REAL    NOT NULL,
	condition        TEXT    NOT NULL,
	description      TEXT    NOT NULL,
	source           TEXT    NOT NULL,
	raw_payload      BLOB
);
CREATE INDEX IF NOT EXISTS idx_observations_loc_time ON observations (location_key, recorded_at);

CREATE TABLE IF NOT EXISTS assessments (
	id              TEXT    NOT NULL,
	location_key    TEXT    NOT NULL,
	location_name   TEXT    NOT NULL,
	latitude        REAL    NOT NULL,
	longitude       REAL    NOT NULL,
	risk_percentage REAL    NOT NULL,
	tier            TEXT    NOT NULL,
	factors         TEXT    NOT NULL,
	confidence      REAL    NOT NULL,
	computed_at     INTEGER NOT NULL,
	valid_until     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assessments_loc_time ON assessments (location_key, computed_at);

CREATE TABLE IF NOT EXISTS sensor_snapshots (
	location_key      TEXT    NOT NULL PRIMARY KEY,
	soil_moisture_pct REAL,
	river_level_m     REAL,
	rainfall_mm       REAL,
	recorded_at       INTEGER NOT NULL
);
`

// SQLite is a durable store backed by a single SQLite database file. The
// schema is created on open; an empty path is rejected, use ":memory:" for
// an ephemeral database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and prepares
// the schema. The returned store is safe for concurrent use.
func OpenSQLite(path string) (*SQLite, error) {
	const op = "store.OpenSQLite"

	if path == "" {
		return nil, domain.Errorf(domain.KindValidation, op, "database path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, domain.NewError(domain.KindUnavailable, op, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, domain.NewError(domain.KindUnavailable, op, fmt.Errorf("enable WAL: %w", err))
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, domain.NewError(domain.KindUnavailable, op, fmt.Errorf("create schema: %w", err))
	}
	return &SQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) AppendObservation(ctx context.Context, obs domain.Observation) error {
	const op = "store.AppendObservation"

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO observations (
			id, dedupe_key, location_key, location_name, latitude, longitude,
			recorded_at, temperature_c, humidity_pct, precipitation_mm,
			wind_speed_ms, pressure_hpa, condition, description, source, raw_payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.ID, obs.DedupeKey(), obs.Location.Key(), obs.Location.Name,
		obs.Location.Lat, obs.Location.Lon, obs.RecordedAt.UnixNano(),
		obs.TemperatureC, obs.HumidityPct, obs.PrecipitationMm,
		obs.WindSpeedMS, obs.PressureHPa, obs.Condition, obs.Description,
		string(obs.Source), obs.RawPayload,
	)
	if err != nil {
		return domain.NewError(domain.KindStoreWrite, op, err)
	}
	return nil
}

func (s *SQLite) ObservationsInRange(ctx context.Context, locationKey string, start, end time.Time) ([]domain.Observation, error) {
	const op = "store.ObservationsInRange"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, location_name, latitude, longitude, recorded_at,
		       temperature_c, humidity_pct, precipitation_mm, wind_speed_ms,
		       pressure_hpa, condition, description, source, raw_payload
		FROM observations
		WHERE location_key = ? AND recorded_at >= ? AND recorded_at < ?
		ORDER BY recorded_at ASC`,
		locationKey, start.UnixNano(), end.UnixNano(),
	)
	if err != nil {
		return nil, domain.NewError(domain.KindUnavailable, op, err)
	}
	defer rows.Close()

	var out []domain.Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, domain.NewError(domain.KindUnavailable, op, err)
		}
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewError(domain.KindUnavailable, op, err)
	}
	return out, nil
}

func (s *SQLite) LatestObservation(ctx context.Context, locationKey string) (*domain.Observation, error) {
	const op = "store.LatestObservation"

	row := s.db.QueryRowContext(ctx, `
		SELECT id, location_name, latitude, longitude, recorded_at,
		       temperature_c, humidity_pct, precipitation_mm, wind_speed_ms,
		       pressure_hpa, condition, description, source, raw_payload
		FROM observations
		WHERE location_key = ?
		ORDER BY recorded_at DESC
		LIMIT 1`,
		locationKey,
	)
	obs, err := scanObservation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewError(domain.KindUnavailable, op, err)
	}
	return &obs, nil
}

func (s *SQLite) AppendAssessment(ctx context.Context, a domain.RiskAssessment) error {
	const op = "store.AppendAssessment"

	factors, err := json.Marshal(a.Factors)
	if err != nil {
		return domain.NewError(domain.KindStoreWrite, op, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assessments (
			id, location_key, location_name, latitude, longitude,
			risk_percentage, tier, factors, confidence, computed_at, valid_until
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Location.Key(), a.Location.Name, a.Location.Lat, a.Location.Lon,
		a.RiskPercentage, string(a.Tier), string(factors), a.Confidence,
		a.ComputedAt.UnixNano(), a.ValidUntil.UnixNano(),
	)
	if err != nil {
		return domain.NewError(domain.KindStoreWrite, op, err)
	}
	return nil
}

func (s *SQLite) AssessmentsInRange(ctx context.Context, locationKey string, start, end time.Time) ([]domain.RiskAssessment, error) {
	const op = "store.AssessmentsInRange"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, location_name, latitude, longitude, risk_percentage,
		       tier, factors, confidence, computed_at, valid_until
		FROM assessments
		WHERE location_key = ? AND computed_at >= ? AND computed_at < ?
		ORDER BY computed_at ASC`,
		locationKey, start.UnixNano(), end.UnixNano(),
	)
	if err != nil {
		return nil, domain.NewError(domain.KindUnavailable, op, err)
	}
	defer rows.Close()

	var out []domain.RiskAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, domain.NewError(domain.KindUnavailable, op, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewError(domain.KindUnavailable, op, err)
	}
	return out, nil
}

func (s *SQLite) LatestAssessment(ctx context.Context, locationKey string) (*domain.RiskAssessment, error) {
	const op = "store.LatestAssessment"

	row := s.db.QueryRowContext(ctx, `
		SELECT id, location_name, latitude, longitude, risk_percentage,
		       tier, factors, confidence, computed_at, valid_until
		FROM assessments
		WHERE location_key = ?
		ORDER BY computed_at DESC
		LIMIT 1`,
		locationKey,
	)
	a, err := scanAssessment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewError(domain.KindUnavailable, op, err)
	}
	return &a, nil
}

func (s *SQLite) PutSnapshot(ctx context.Context, snap domain.SensorSnapshot) error {
	const op = "store.PutSnapshot"

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sensor_snapshots (location_key, soil_moisture_pct, river_level_m, rainfall_mm, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (location_key) DO UPDATE SET
			soil_moisture_pct = excluded.soil_moisture_pct,
			river_level_m     = excluded.river_level_m,
			rainfall_mm       = excluded.rainfall_mm,
			recorded_at       = excluded.recorded_at
		WHERE excluded.recorded_at >= sensor_snapshots.recorded_at`,
		snap.LocationKey, snap.SoilMoisturePct, snap.RiverLevelM, snap.RainfallMm,
		snap.RecordedAt.UnixNano(),
	)
	if err != nil {
		return domain.NewError(domain.KindStoreWrite, op, err)
	}
	return nil
}

func (s *SQLite) LatestSnapshot(ctx context.Context, locationKey string, maxAge time.Duration, now time.Time) (*domain.SensorSnapshot, error) {
	const op = "store.LatestSnapshot"

	row := s.db.QueryRowContext(ctx, `
		SELECT location_key, soil_moisture_pct, river_level_m, rainfall_mm, recorded_at
		FROM sensor_snapshots
		WHERE location_key = ?`,
		locationKey,
	)
	var (
		snap     domain.SensorSnapshot
		recorded int64
	)
	err := row.Scan(&snap.LocationKey, &snap.SoilMoisturePct, &snap.RiverLevelM, &snap.RainfallMm, &recorded)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewError(domain.KindUnavailable, op, err)
	}
	snap.RecordedAt = time.Unix(0, recorded).UTC()
	if maxAge > 0 && now.Sub(snap.RecordedAt) > maxAge {
		return nil, nil
	}
	return &snap, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObservation(row rowScanner) (domain.Observation, error) {
	var (
		obs      domain.Observation
		recorded int64
		source   string
	)
	err := row.Scan(
		&obs.ID, &obs.Location.Name, &obs.Location.Lat, &obs.Location.Lon,
		&recorded, &obs.TemperatureC, &obs.HumidityPct, &obs.PrecipitationMm,
		&obs.WindSpeedMS, &obs.PressureHPa, &obs.Condition, &obs.Description,
		&source, &obs.RawPayload,
	)
	if err != nil {
		return domain.Observation{}, err
	}
	obs.RecordedAt = time.Unix(0, recorded).UTC()
	obs.Source = domain.Source(source)
	return obs, nil
}

func scanAssessment(row rowScanner) (domain.RiskAssessment, error) {
	var (
		a          domain.RiskAssessment
		tier       string
		factors    string
		computed   int64
		validUntil int64
	)
	err := row.Scan(
		&a.ID, &a.Location.Name, &a.Location.Lat, &a.Location.Lon,
		&a.RiskPercentage, &tier, &factors, &a.Confidence, &computed, &validUntil,
	)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	if err := json.Unmarshal([]byte(factors), &a.Factors); err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("decode factors: %w", err)
	}
	a.Tier = domain.Tier(tier)
	a.ComputedAt = time.Unix(0, computed).UTC()
	a.ValidUntil = time.Unix(0, validUntil).UTC()
	return a, nil
}
