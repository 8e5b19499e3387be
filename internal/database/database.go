package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"photo-indexer/internal/logging"
	"photo-indexer/internal/metrics"
)

const (
	// Default timeout for single-row operations
	defaultTimeout = 5 * time.Second

	// Timeout for bulk operations (recounts, large deletes)
	bulkTimeout = 60 * time.Second

	// Maximum host parameters per IN (...) clause
	maxParams = 500
)

// Database is the sqlite-backed index: photos, faces, persons, cities,
// settings and the analysis log.
type Database struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Batch is an open write transaction started by BeginBatch.
type Batch struct {
	Tx    *sql.Tx
	start time.Time
}

// New opens (creating if needed) the database file at dbPath and applies the
// schema. The parent directory must exist and be writable.
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	if err := checkDirectory(dbPath); err != nil {
		logging.Warn("Database directory check: %v", err)
	}

	// _txlock=immediate takes the write lock at BEGIN so busy_timeout applies
	// instead of failing on lock upgrade.
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate&_cache_size=10000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{db: db, dbPath: dbPath}

	start := time.Now()
	err = d.initialize(ctx)
	recordQuery("initialize_schema", start, err)
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return d, nil
}

func (d *Database) initialize(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return d.runMigrations(ctx)
}

// runMigrations adds columns introduced after the first schema version.
func (d *Database) runMigrations(ctx context.Context) error {
	migrations := []struct {
		table, column, ddl string
	}{
		{"photos", "faces_scanned", "ALTER TABLE photos ADD COLUMN faces_scanned INTEGER NOT NULL DEFAULT 0"},
		{"faces", "weight", "ALTER TABLE faces ADD COLUMN weight REAL NOT NULL DEFAULT 1.0"},
	}

	for _, m := range migrations {
		var exists bool
		err := d.db.QueryRowContext(ctx,
			"SELECT COUNT(*) > 0 FROM pragma_table_info(?) WHERE name = ?", m.table, m.column,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check for %s.%s: %w", m.table, m.column, err)
		}
		if exists {
			continue
		}
		logging.Info("Migrating database: adding %s.%s", m.table, m.column)
		if _, err := d.db.ExecContext(ctx, m.ddl); err != nil {
			return fmt.Errorf("failed to add %s.%s: %w", m.table, m.column, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.dbPath
}

// BeginBatch starts a write transaction. Each batch commits on its own so an
// interrupted run keeps everything committed before it.
func (d *Database) BeginBatch(ctx context.Context) (*Batch, error) {
	d.mu.Lock()
	start := time.Now()
	tx, err := d.db.BeginTx(ctx, nil)
	d.mu.Unlock()

	if err != nil {
		recordQuery("begin_transaction", start, err)
		return nil, err
	}
	return &Batch{Tx: tx, start: start}, nil
}

// EndBatch commits the batch, or rolls it back when err is non-nil.
func (d *Database) EndBatch(b *Batch, err error) error {
	duration := time.Since(b.start).Seconds()

	if err != nil {
		metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(duration)
		if rbErr := b.Tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		return err
	}

	metrics.DBTransactionDuration.WithLabelValues("commit").Observe(duration)
	return b.Tx.Commit()
}

// withTx runs fn inside one transaction and records it under operation.
func (d *Database) withTx(ctx context.Context, operation string, fn func(tx *sql.Tx) error) (err error) {
	start := time.Now()
	defer func() { recordQuery(operation, start, err) }()

	b, err := d.BeginBatch(ctx)
	if err != nil {
		return err
	}
	return d.EndBatch(b, fn(b.Tx))
}

// LibraryStats computes the counts published by the metrics collector and the
// stats endpoint.
func (d *Database) LibraryStats(ctx context.Context) (metrics.LibraryStats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()

	stats := metrics.LibraryStats{FacesByState: make(map[string]int)}

	err := d.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN is_metadata_extracted = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN needs_reanalysis = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN faces_scanned = 0 THEN 1 ELSE 0 END), 0)
		FROM photos
	`).Scan(&stats.Photos, &stats.PendingMetadata, &stats.PendingAnalysis, &stats.PendingFaces)
	if err != nil {
		return stats, fmt.Errorf("failed to count photos: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, "SELECT assignment_type, COUNT(*) FROM faces GROUP BY assignment_type")
	if err != nil {
		return stats, fmt.Errorf("failed to count faces: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return stats, err
		}
		stats.FacesByState[state] = count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM persons").Scan(&stats.Persons); err != nil {
		return stats, fmt.Errorf("failed to count persons: %w", err)
	}
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cities").Scan(&stats.Cities); err != nil {
		return stats, fmt.Errorf("failed to count cities: %w", err)
	}
	return stats, nil
}

// UpdateDBMetrics publishes connection pool metrics.
func (d *Database) UpdateDBMetrics() {
	metrics.DBConnectionsOpen.Set(float64(d.db.Stats().OpenConnections))
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// recordRows records how many rows a write touched.
func recordRows(operation string, res sql.Result) {
	if n, err := res.RowsAffected(); err == nil {
		metrics.DBRowsAffected.WithLabelValues(operation).Observe(float64(n))
	}
}

// checkDirectory verifies the database directory is writable.
func checkDirectory(dbPath string) error {
	dir := filepath.Dir(dbPath)

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	probe := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("database directory not writable: %w", err)
	}
	_ = os.Remove(probe)

	if dbInfo, err := os.Stat(dbPath); err == nil && dbInfo.Mode().Perm()&0o200 == 0 {
		logging.Warn("Database file is read-only! Mode: %v", dbInfo.Mode())
	}
	return nil
}

// placeholders returns "?,?,?" for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}

// chunk splits values into slices of at most maxParams.
func chunk[T any](values []T) [][]T {
	var out [][]T
	for len(values) > maxParams {
		out = append(out, values[:maxParams])
		values = values[maxParams:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
