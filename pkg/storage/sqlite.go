// Package storage persists query logs; this file provides the SQLite
// backend.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cnamed/pkg/config"

	_ "modernc.org/sqlite"
)

// MetricsRecorder records storage-side metrics. Defined here rather than in
// telemetry to avoid an import cycle.
type MetricsRecorder interface {
	AddDroppedQuery(ctx context.Context, count int64)
}

const schema = `
CREATE TABLE IF NOT EXISTS queries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	client_ip TEXT NOT NULL,
	domain TEXT NOT NULL,
	query_type TEXT NOT NULL,
	target TEXT NOT NULL DEFAULT '',
	response_code INTEGER NOT NULL,
	rewritten BOOLEAN NOT NULL DEFAULT 0,
	response_time_ms REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_queries_timestamp ON queries(timestamp);
CREATE INDEX IF NOT EXISTS idx_queries_domain ON queries(domain);
`

// SQLiteStorage implements Storage on a single SQLite database. Writes go
// through a buffered channel and are flushed in batched transactions by a
// background worker.
type SQLiteStorage struct {
	db         *sql.DB
	cfg        *config.StorageConfig
	metrics    MetricsRecorder
	buffer     chan *QueryLog
	stmtInsert *sql.Stmt
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
}

// NewSQLiteStorage opens (or creates) the database and starts the flush
// worker.
func NewSQLiteStorage(cfg *config.StorageConfig, metrics MetricsRecorder) (Storage, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if pingErr := db.Ping(); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, pingErr)
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeoutMs),
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if cfg.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, pragmaErr := db.Exec(pragma); pragmaErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", pragmaErr)
		}
	}

	if _, schemaErr := db.Exec(schema); schemaErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", schemaErr)
	}

	stmtInsert, err := db.Prepare(`
		INSERT INTO queries
		(timestamp, client_ip, domain, query_type, target, response_code, rewritten, response_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	s := &SQLiteStorage{
		db:         db,
		cfg:        cfg,
		metrics:    metrics,
		buffer:     make(chan *QueryLog, cfg.BufferSize),
		stmtInsert: stmtInsert,
	}

	s.wg.Add(1)
	go s.flushWorker()

	return s, nil
}

// LogQuery enqueues an entry without blocking the request path. When the
// buffer is full the entry is dropped and counted.
func (s *SQLiteStorage) LogQuery(ctx context.Context, entry *QueryLog) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	select {
	case s.buffer <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		if s.metrics != nil {
			s.metrics.AddDroppedQuery(ctx, 1)
		}
		return ErrBufferFull
	}
}

// flushWorker batches buffered entries and writes them in one transaction
// per batch, flushing on size or interval. Exits when the buffer channel is
// closed, flushing whatever remains.
func (s *SQLiteStorage) flushWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(s.cfg.FlushSeconds) * time.Second)
	defer ticker.Stop()

	batch := make([]*QueryLog, 0, s.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.flushBatch(batch); err != nil {
			slog.Default().Error("Failed to flush query batch",
				"error", err,
				"batch_size", len(batch),
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-s.buffer:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}

// flushBatch writes one batch in a single transaction.
func (s *SQLiteStorage) flushBatch(entries []*QueryLog) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt := tx.Stmt(s.stmtInsert)
	for _, entry := range entries {
		_, err := stmt.Exec(
			entry.Timestamp,
			entry.ClientIP,
			entry.Domain,
			entry.QueryType,
			entry.Target,
			entry.ResponseCode,
			entry.Rewritten,
			entry.ResponseTimeMs,
		)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return nil
}

// RecentQueries returns the most recent entries, newest first.
func (s *SQLiteStorage) RecentQueries(ctx context.Context, limit, offset int) ([]*QueryLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, client_ip, domain, query_type, target, response_code, rewritten, response_time_ms
		FROM queries
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*QueryLog
	for rows.Next() {
		entry := &QueryLog{}
		if err := rows.Scan(
			&entry.ID,
			&entry.Timestamp,
			&entry.ClientIP,
			&entry.Domain,
			&entry.QueryType,
			&entry.Target,
			&entry.ResponseCode,
			&entry.Rewritten,
			&entry.ResponseTimeMs,
		); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return entries, nil
}

// Statistics aggregates entries recorded since the given time.
func (s *SQLiteStorage) Statistics(ctx context.Context, since time.Time) (*Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	stats := &Statistics{
		Since: since,
		Until: time.Now(),
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN rewritten THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT domain),
			COUNT(DISTINCT client_ip),
			COALESCE(AVG(response_time_ms), 0)
		FROM queries
		WHERE timestamp >= ?
	`, since)
	if err := row.Scan(
		&stats.TotalQueries,
		&stats.RewrittenQueries,
		&stats.UniqueDomains,
		&stats.UniqueClients,
		&stats.AvgResponseTimeMs,
	); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	stats.NXDomainQueries = stats.TotalQueries - stats.RewrittenQueries
	if stats.TotalQueries > 0 {
		stats.RewriteRate = float64(stats.RewrittenQueries) / float64(stats.TotalQueries) * 100
	}
	return stats, nil
}

// Cleanup removes entries older than the given time.
func (s *SQLiteStorage) Cleanup(ctx context.Context, olderThan time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM queries WHERE timestamp < ?`, olderThan); err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close stops the flush worker, flushes buffered entries and closes the
// database. Safe to call once.
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.buffer)
	s.wg.Wait()

	if s.stmtInsert != nil {
		_ = s.stmtInsert.Close()
	}
	return s.db.Close()
}
