package storage

import (
	"context"
	"time"
)

// DefaultLogTimeout bounds a single LogQuery call from the async logger.
const DefaultLogTimeout = 1 * time.Second

// Storage is the query-log persistence backend. Implementations must be
// safe for concurrent use.
type Storage interface {
	// LogQuery enqueues one query log entry (buffered, non-blocking).
	LogQuery(ctx context.Context, entry *QueryLog) error

	// RecentQueries returns the most recent entries, newest first.
	RecentQueries(ctx context.Context, limit, offset int) ([]*QueryLog, error)

	// Statistics aggregates entries recorded since the given time.
	Statistics(ctx context.Context, since time.Time) (*Statistics, error)

	// Cleanup removes entries older than the given time.
	Cleanup(ctx context.Context, olderThan time.Time) error

	Ping(ctx context.Context) error
	Close() error
}

// QueryLog is a single answered query.
type QueryLog struct {
	Timestamp      time.Time `json:"timestamp"`
	ClientIP       string    `json:"client_ip"`
	Domain         string    `json:"domain"`
	QueryType      string    `json:"query_type"`
	Target         string    `json:"target,omitempty"`
	ID             int64     `json:"id"`
	ResponseCode   int       `json:"response_code"`
	ResponseTimeMs float64   `json:"response_time_ms"`
	Rewritten      bool      `json:"rewritten"`
}

// Statistics is an aggregate over a time window.
type Statistics struct {
	Since             time.Time `json:"since"`
	Until             time.Time `json:"until"`
	TotalQueries      int64     `json:"total_queries"`
	RewrittenQueries  int64     `json:"rewritten_queries"`
	NXDomainQueries   int64     `json:"nxdomain_queries"`
	UniqueDomains     int64     `json:"unique_domains"`
	UniqueClients     int64     `json:"unique_clients"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
	RewriteRate       float64   `json:"rewrite_rate"` // percentage of rewritten queries
}
