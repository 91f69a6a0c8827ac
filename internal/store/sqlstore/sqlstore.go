// Package sqlstore persists offender records in PostgreSQL (pgx) or SQLite
// (modernc) through sqlx.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver

	"duiwatch/internal/models"
	"duiwatch/internal/store"
)

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 5 * time.Minute
	defaultPingTimeout     = 5 * time.Second
)

const offenderColumns = `id, name, id_number, license_plate, gender, violation_date, case_number,
	violation_clause, location, description, source_url, image_url, source, crawl_time,
	created_at, updated_at`

// Schema creates the tables when missing. It is valid for both drivers.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS offenders (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		id_number TEXT,
		license_plate TEXT,
		gender TEXT,
		violation_date DATE,
		case_number TEXT,
		violation_clause TEXT,
		location TEXT,
		description TEXT,
		source_url TEXT,
		image_url TEXT,
		source TEXT NOT NULL,
		raw_data TEXT,
		crawl_time TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_offenders_name_id_number ON offenders (name, id_number)`,
	`CREATE INDEX IF NOT EXISTS idx_offenders_name_license_plate ON offenders (name, license_plate)`,
	`CREATE INDEX IF NOT EXISTS idx_offenders_name_case_number ON offenders (name, case_number)`,
	`CREATE TABLE IF NOT EXISTS offender_sources (
		id TEXT PRIMARY KEY,
		offender_id TEXT NOT NULL REFERENCES offenders (id),
		source_name TEXT NOT NULL,
		url TEXT,
		image_url TEXT,
		crawl_time TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_offender_sources_offender ON offender_sources (offender_id)`,
}

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Store is a store.Store over a SQL database. Inside Transaction the same
// type wraps the transaction instead of the pool.
type Store struct {
	db  *sqlx.DB
	q   sqlx.ExtContext
	tx  *sqlx.Tx
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open connects to the database. driver is "postgres" or "sqlite".
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var driverName string

	switch driver {
	case DriverPostgres:
		driverName = "pgx"
	case DriverSQLite:
		driverName = DriverSQLite
	default:
		return nil, fmt.Errorf("%w: %q", store.ErrUnsupported, driver)
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// one connection keeps ":memory:" databases shared
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(defaultMaxOpenConns)
		db.SetMaxIdleConns(defaultMaxIdleConns)
		db.SetConnMaxLifetime(defaultConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(db), nil
}

// New wraps an existing connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, q: db, now: time.Now}
}

// EnsureSchema creates missing tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := s.q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return nil
}

// FindByMatchKey implements store.Store.
func (s *Store) FindByMatchKey(ctx context.Context, key store.MatchKey) (*models.OffenderRecord, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidKey, key.Field)
	}

	// key.Field is one of the whitelisted column names
	query := s.q.Rebind(fmt.Sprintf(
		`SELECT %s FROM offenders WHERE name = ? AND %s = ? ORDER BY created_at, id LIMIT 1`,
		offenderColumns, key.Field,
	))

	var rec models.OffenderRecord
	if err := sqlx.GetContext(ctx, s.q, &rec, query, key.Name, key.Value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}

		return nil, fmt.Errorf("failed to find offender: %w", err)
	}

	return &rec, nil
}

// Get implements store.Store. RawData is write-only and not loaded.
func (s *Store) Get(ctx context.Context, id string) (*models.OffenderRecord, error) {
	query := s.q.Rebind(`SELECT ` + offenderColumns + ` FROM offenders WHERE id = ?`)

	var rec models.OffenderRecord
	if err := sqlx.GetContext(ctx, s.q, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}

		return nil, fmt.Errorf("failed to get offender: %w", err)
	}

	return &rec, nil
}

// Insert implements store.Store.
func (s *Store) Insert(ctx context.Context, rec *models.OffenderRecord) (string, error) {
	if !rec.Valid() {
		return "", store.ErrNoMatchKey
	}

	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := s.now().UTC()

	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}

	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = created
	}

	crawl := rec.CrawlTime
	if crawl.IsZero() {
		crawl = now
	}

	var rawData *string

	if len(rec.RawData) > 0 {
		b, err := json.Marshal(rec.RawData)
		if err != nil {
			return "", fmt.Errorf("failed to marshal raw data: %w", err)
		}

		raw := string(b)
		rawData = &raw
	}

	query := s.q.Rebind(`INSERT INTO offenders (
		id, name, id_number, license_plate, gender, violation_date, case_number,
		violation_clause, location, description, source_url, image_url, source,
		raw_data, crawl_time, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.q.ExecContext(ctx, query,
		id, rec.Name, rec.IDNumber, rec.LicensePlate, rec.Gender, rec.ViolationDate, rec.CaseNumber,
		rec.ViolationClause, rec.Location, rec.Description, rec.SourceURL, rec.ImageURL, rec.Source,
		rawData, crawl, created, updated,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert offender: %w", err)
	}

	return id, nil
}

// UpdateFields implements store.Store.
func (s *Store) UpdateFields(ctx context.Context, id string, patch store.Patch) error {
	updatedAt := patch.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now().UTC()
	}

	cols := patch.Columns()
	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+2)

	for _, c := range cols {
		sets = append(sets, c.Name+" = ?")
		args = append(args, c.Value)
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, updatedAt, id)

	query := s.q.Rebind(`UPDATE offenders SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)

	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update offender: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if n == 0 {
		return store.ErrNotFound
	}

	return nil
}

// AppendProvenance implements store.Store.
func (s *Store) AppendProvenance(ctx context.Context, offenderID string, prov models.SourceProvenance) error {
	var count int

	exists := s.q.Rebind(`SELECT COUNT(*) FROM offenders WHERE id = ?`)
	if err := sqlx.GetContext(ctx, s.q, &count, exists, offenderID); err != nil {
		return fmt.Errorf("failed to check offender: %w", err)
	}

	if count == 0 {
		return store.ErrNotFound
	}

	if prov.ID == "" {
		prov.ID = uuid.NewString()
	}

	if prov.CrawlTime.IsZero() {
		prov.CrawlTime = s.now().UTC()
	}

	query := s.q.Rebind(`INSERT INTO offender_sources (id, offender_id, source_name, url, image_url, crawl_time)
		VALUES (?, ?, ?, ?, ?, ?)`)

	if _, err := s.q.ExecContext(ctx, query,
		prov.ID, offenderID, prov.SourceName, prov.URL, prov.ImageURL, prov.CrawlTime,
	); err != nil {
		return fmt.Errorf("failed to insert provenance: %w", err)
	}

	return nil
}

// ListProvenance implements store.Store.
func (s *Store) ListProvenance(ctx context.Context, offenderID string) ([]models.SourceProvenance, error) {
	query := s.q.Rebind(`SELECT id, offender_id, source_name, url, image_url, crawl_time
		FROM offender_sources WHERE offender_id = ? ORDER BY crawl_time, id`)

	var list []models.SourceProvenance
	if err := sqlx.SelectContext(ctx, s.q, &list, query, offenderID); err != nil {
		return nil, fmt.Errorf("failed to list provenance: %w", err)
	}

	return list, nil
}

// Transaction implements store.Store. Nested calls join the outer
// transaction.
func (s *Store) Transaction(ctx context.Context, fn func(store.Store) error) (err error) {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()

			panic(p)
		}
	}()

	if err := fn(&Store{db: s.db, q: tx, tx: tx, now: s.now}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back: %w", rbErr))
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	if s.tx != nil {
		return nil
	}

	return s.db.Close()
}
