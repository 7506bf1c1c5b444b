// Package store provides database and cache access
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/shiv6146/callbridge/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a call record does not exist
var ErrNotFound = errors.New("call record not found")

// PostgresStore implements database operations
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(ctx context.Context, databaseURL string, maxConns int) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies the embedded schema migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// =============================================================================
// Call Record Operations
// =============================================================================

const callRecordColumns = `
	call_id, client_name, phone_number, call_sid, transcript, insights,
	conversion_status, summary, follow_up_date, timestamp`

// UpsertCallRecord inserts a call record or replaces the existing one
func (s *PostgresStore) UpsertCallRecord(ctx context.Context, record *models.CallRecord) (*models.CallRecord, error) {
	if record.Insights.Topics == nil {
		record.Insights.Topics = []string{}
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO call_records (`+callRecordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (call_id) DO UPDATE SET
			client_name = EXCLUDED.client_name,
			phone_number = EXCLUDED.phone_number,
			call_sid = EXCLUDED.call_sid,
			transcript = EXCLUDED.transcript,
			insights = EXCLUDED.insights,
			conversion_status = EXCLUDED.conversion_status,
			summary = EXCLUDED.summary,
			follow_up_date = EXCLUDED.follow_up_date,
			timestamp = EXCLUDED.timestamp,
			updated_at = NOW()
		RETURNING `+callRecordColumns,
		record.CallID, record.ClientName, record.PhoneNumber, record.CallSID, record.Transcript,
		record.Insights, record.ConversionStatus, record.Summary, record.FollowUpDate,
		record.Timestamp.UTC(),
	)

	return scanCallRecord(row)
}

// ListCallRecords returns one page of call records, newest first, and the total count
func (s *PostgresStore) ListCallRecords(ctx context.Context, page, pageSize int) ([]*models.CallRecord, int64, error) {
	offset := max(page-1, 0) * pageSize

	rows, err := s.pool.Query(ctx, `
		SELECT `+callRecordColumns+`
		FROM call_records
		ORDER BY timestamp DESC
		LIMIT $1 OFFSET $2
	`, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := make([]*models.CallRecord, 0, pageSize)
	for rows.Next() {
		r, err := scanCallRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM call_records`).Scan(&total); err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

// GetCallRecord returns a call record by call ID
func (s *PostgresStore) GetCallRecord(ctx context.Context, callID string) (*models.CallRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+callRecordColumns+`
		FROM call_records
		WHERE call_id = $1
	`, callID)

	r, err := scanCallRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// Summary returns conversion statistics across all call records
func (s *PostgresStore) Summary(ctx context.Context) (*models.CallSummary, error) {
	var summary models.CallSummary
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE conversion_status)
		FROM call_records
	`).Scan(&summary.TotalCalls, &summary.Conversions)
	if err != nil {
		return nil, err
	}

	summary.ConversionRate = ConversionRate(summary.Conversions, summary.TotalCalls)
	return &summary, nil
}

// ConversionRate returns conversions/total rounded to four decimal places
func ConversionRate(conversions, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(conversions)/float64(total)*10000) / 10000
}

func scanCallRecord(row pgx.Row) (*models.CallRecord, error) {
	var r models.CallRecord
	var ts time.Time
	err := row.Scan(
		&r.CallID, &r.ClientName, &r.PhoneNumber, &r.CallSID, &r.Transcript, &r.Insights,
		&r.ConversionStatus, &r.Summary, &r.FollowUpDate, &ts,
	)
	if err != nil {
		return nil, err
	}
	r.Timestamp = ts.UTC()
	if r.Insights.Topics == nil {
		r.Insights.Topics = []string{}
	}
	return &r, nil
}
