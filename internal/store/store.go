// File: internal/store/store.go

// Package store archives finished execution reports in PostgreSQL. The
// archive is a local convenience for operators; the coordinator's copy of the
// report is authoritative and archival failures never change a job outcome.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/klynelabs/uirunner/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts the pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS job_reports (
	job_id       TEXT        NOT NULL,
	status       TEXT        NOT NULL,
	total_steps  INT         NOT NULL,
	passed_steps INT         NOT NULL,
	failed_steps INT         NOT NULL,
	report       JSONB       NOT NULL,
	reported_at  TIMESTAMPTZ NOT NULL
)`

// Store is the report archive.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New verifies connectivity, ensures the schema exists and returns the
// archive.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("failed to ensure report schema: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.With(zap.String("component", "report_store")),
	}, nil
}

// SaveReport inserts one finished report. Insert-only: reports are immutable
// once written.
func (s *Store) SaveReport(ctx context.Context, jobID string, status schemas.JobStatus, report *schemas.ExecutionReport) error {
	if report == nil {
		report = &schemas.ExecutionReport{}
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO job_reports (job_id, status, total_steps, passed_steps, failed_steps, report, reported_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		jobID, string(status), report.TotalSteps, report.PassedSteps, report.FailedSteps, raw, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert report for job %s: %w", jobID, err)
	}
	s.log.Debug("Report archived", zap.String("job_id", jobID), zap.String("status", string(status)))
	return nil
}

// ArchivedReport is one row of the archive.
type ArchivedReport struct {
	JobID      string                  `json:"job_id"`
	Status     schemas.JobStatus       `json:"status"`
	Report     schemas.ExecutionReport `json:"report"`
	ReportedAt time.Time               `json:"reported_at"`
}

// RecentReports returns up to limit reports, newest first.
func (s *Store) RecentReports(ctx context.Context, limit int) ([]ArchivedReport, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, status, report, reported_at
		 FROM job_reports ORDER BY reported_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var out []ArchivedReport
	for rows.Next() {
		var r ArchivedReport
		var raw []byte
		if err := rows.Scan(&r.JobID, &r.Status, &raw, &r.ReportedAt); err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		if err := json.Unmarshal(raw, &r.Report); err != nil {
			return nil, fmt.Errorf("failed to decode archived report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
