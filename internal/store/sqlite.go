package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/geografi/enrich-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db    *sql.DB
	clock clockwork.Clock
}

// SQLiteOption configures the store.
type SQLiteOption func(*SQLiteStore)

// WithClock sets the time source used for created_at stamps and purge
// cutoffs. Tests inject a fake clock here.
func WithClock(c clockwork.Clock) SQLiteOption {
	return func(s *SQLiteStore) {
		s.clock = c
	}
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, opts ...SQLiteOption) (*SQLiteStore, error) {
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
	s := &SQLiteStore{db: db, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS cep_cache (
	cep        TEXT PRIMARY KEY,
	found      INTEGER NOT NULL,
	data       TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS geocode_cache (
	address_hash TEXT PRIMARY KEY,
	query        TEXT,
	found        INTEGER NOT NULL,
	latitude     REAL,
	longitude    REAL,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS processing_runs (
	id             TEXT PRIMARY KEY,
	filename       TEXT NOT NULL,
	total_rows     INTEGER NOT NULL DEFAULT 0,
	processed_rows INTEGER NOT NULL DEFAULT 0,
	fixed_ceps     INTEGER NOT NULL DEFAULT 0,
	found_coords   INTEGER NOT NULL DEFAULT 0,
	errors         INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL,
	started_at     DATETIME NOT NULL,
	finished_at    DATETIME
);

CREATE INDEX IF NOT EXISTS idx_cep_cache_created_at ON cep_cache(created_at);
CREATE INDEX IF NOT EXISTS idx_geocode_cache_created_at ON geocode_cache(created_at);
CREATE INDEX IF NOT EXISTS idx_processing_runs_started_at ON processing_runs(started_at);
`

// Migrate creates the cache and run-log tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetCEP looks up a postal code entry. Negative entries report NegativeHit.
func (s *SQLiteStore) GetCEP(ctx context.Context, cep string) (Lookup[model.Address], error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT found, data FROM cep_cache WHERE cep = ?`, cep,
	)

	var found int
	var data sql.NullString
	err := row.Scan(&found, &data)
	if err == sql.ErrNoRows {
		return Lookup[model.Address]{State: Miss}, nil
	}
	if err != nil {
		return Lookup[model.Address]{}, eris.Wrap(err, "sqlite: get cep")
	}

	if found == 0 {
		return Lookup[model.Address]{State: NegativeHit}, nil
	}

	var addr model.Address
	if err := json.Unmarshal([]byte(data.String), &addr); err != nil {
		return Lookup[model.Address]{}, eris.Wrap(err, "sqlite: unmarshal cep payload")
	}
	return Lookup[model.Address]{State: Hit, Value: addr}, nil
}

// PutCEP stores a postal code result. A nil address records a negative entry.
// Writes are INSERT OR REPLACE, so concurrent writers racing on one key are benign.
func (s *SQLiteStore) PutCEP(ctx context.Context, cep string, addr *model.Address) error {
	found := 0
	var data any
	if addr != nil {
		payload, err := json.Marshal(addr)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal cep payload")
		}
		found = 1
		data = string(payload)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cep_cache (cep, found, data, created_at) VALUES (?, ?, ?, ?)`,
		cep, found, data, s.clock.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: put cep")
}

// GetGeocode looks up a geocode entry by address hash.
func (s *SQLiteStore) GetGeocode(ctx context.Context, key string) (Lookup[model.Coordinates], error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT found, latitude, longitude FROM geocode_cache WHERE address_hash = ?`, key,
	)

	var found int
	var lat, lon sql.NullFloat64
	err := row.Scan(&found, &lat, &lon)
	if err == sql.ErrNoRows {
		return Lookup[model.Coordinates]{State: Miss}, nil
	}
	if err != nil {
		return Lookup[model.Coordinates]{}, eris.Wrap(err, "sqlite: get geocode")
	}

	if found == 0 {
		return Lookup[model.Coordinates]{State: NegativeHit}, nil
	}
	return Lookup[model.Coordinates]{
		State: Hit,
		Value: model.Coordinates{Latitude: lat.Float64, Longitude: lon.Float64},
	}, nil
}

// PutGeocode stores a geocode result keyed by address hash. The raw query is
// kept alongside for inspection only. A nil pair records a negative entry.
func (s *SQLiteStore) PutGeocode(ctx context.Context, key, query string, coords *model.Coordinates) error {
	found := 0
	var lat, lon any
	if coords != nil {
		found = 1
		lat = coords.Latitude
		lon = coords.Longitude
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO geocode_cache (address_hash, query, found, latitude, longitude, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		key, query, found, lat, lon, s.clock.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: put geocode")
}

// Purge deletes cache entries older than the given age from both cache
// tables and returns the total number of rows removed.
func (s *SQLiteStore) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.clock.Now().UTC().Add(-olderThan)

	total := 0
	for _, table := range []string{"cep_cache", "geocode_cache"} {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE created_at < ?`, cutoff,
		)
		if err != nil {
			return total, eris.Wrapf(err, "sqlite: purge %s", table)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, eris.Wrap(err, "sqlite: rows affected")
		}
		total += int(n)
	}
	return total, nil
}

// Stats returns per-table entry counts.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	queries := []struct {
		sql  string
		dest *int
	}{
		{`SELECT COUNT(*) FROM cep_cache`, &st.CEPEntries},
		{`SELECT COUNT(*) FROM geocode_cache`, &st.GeocodeEntries},
		{`SELECT COUNT(*) FROM processing_runs WHERE status = 'completed'`, &st.CompletedRuns},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return Stats{}, eris.Wrap(err, "sqlite: stats")
		}
	}
	return st, nil
}

// StartRun records the beginning of a processing run and returns its ID.
func (s *SQLiteStore) StartRun(ctx context.Context, filename string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processing_runs (id, filename, status, started_at) VALUES (?, ?, ?, ?)`,
		id, filename, string(model.RunStatusRunning), s.clock.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: start run")
	}
	return id, nil
}

// FinishRun records final statistics and status for a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, stats model.RunStatistics, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE processing_runs
		 SET total_rows = ?, processed_rows = ?, fixed_ceps = ?, found_coords = ?, errors = ?, status = ?, finished_at = ?
		 WHERE id = ?`,
		stats.TotalRows, stats.ProcessedRows, stats.FixedCEPs, stats.CoordinatesFound,
		len(stats.Errors), string(status), s.clock.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("run not found: %s", id)
	}
	return nil
}

// ListRuns returns the most recent processing runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.ProcessingRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, total_rows, processed_rows, fixed_ceps, found_coords, errors, status, started_at, finished_at
		 FROM processing_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.ProcessingRun
	for rows.Next() {
		var r model.ProcessingRun
		var status string
		var finished sql.NullTime
		err := rows.Scan(&r.ID, &r.Filename, &r.TotalRows, &r.ProcessedRows,
			&r.FixedCEPs, &r.FoundCoords, &r.ErrorCount, &status, &r.StartedAt, &finished)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Status = model.RunStatus(status)
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}
