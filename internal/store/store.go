// Package store persists audit history to PostgreSQL: one row per audit
// with the full report as JSONB, plus a findings table populated in bulk
// for cross-audit queries.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/config"
)

// ErrNotFound is returned when no audit exists under the requested ID.
var ErrNotFound = errors.New("audit not found")

// defaultListLimit caps ListAudits when the caller passes no limit.
const defaultListLimit = 20

// DBPool is an interface that abstracts the pgxpool.Pool to allow for
// mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// schemaStatements creates the audit-history tables on first run.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS audits (
        id TEXT PRIMARY KEY,
        contract_name TEXT NOT NULL DEFAULT '',
        address TEXT NOT NULL DEFAULT '',
        network TEXT NOT NULL DEFAULT '',
        risk_score DOUBLE PRECISION NOT NULL,
        degraded BOOLEAN NOT NULL DEFAULT FALSE,
        report JSONB NOT NULL,
        created_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS audits_created_at_idx ON audits (created_at DESC);`,
	`CREATE TABLE IF NOT EXISTS audit_findings (
        id TEXT NOT NULL,
        audit_id TEXT NOT NULL REFERENCES audits(id) ON DELETE CASCADE,
        detector TEXT NOT NULL,
        severity TEXT NOT NULL,
        category TEXT NOT NULL,
        title TEXT NOT NULL,
        description TEXT NOT NULL DEFAULT '',
        location TEXT NOT NULL DEFAULT '',
        line INTEGER NOT NULL DEFAULT 0,
        recommendation TEXT NOT NULL DEFAULT '',
        PRIMARY KEY (audit_id, id)
    );`,
	`CREATE INDEX IF NOT EXISTS audit_findings_severity_idx ON audit_findings (severity);`,
}

const (
	sqlInsertAudit = `
        INSERT INTO audits (id, contract_name, address, network, risk_score, degraded, report, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `
	sqlSelectReport = `
        SELECT report
        FROM audits
        WHERE id = $1;
    `
	sqlListAudits = `
        SELECT id, contract_name, address, network, risk_score, degraded, created_at
        FROM audits
        ORDER BY created_at DESC
        LIMIT $1;
    `
)

// findingColumns is the CopyFrom column list for audit_findings.
var findingColumns = []string{
	"id", "audit_id", "detector", "severity", "category",
	"title", "description", "location", "line", "recommendation",
}

// Store provides a PostgreSQL implementation of the schemas.Store
// interface.
type Store struct {
	pool  DBPool
	log   *zap.Logger
	close func()
}

var _ schemas.Store = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Connect opens a connection pool from configuration, verifies it, and
// ensures the schema exists. The returned store owns the pool.
func Connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Store, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("cannot initialize store with nil dependencies")
	}

	pool, err := pgxpool.New(ctx, cfg.Store.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	store, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	store.close = pool.Close

	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// EnsureSchema creates the audit-history tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	s.log.Debug("Audit schema ensured")
	return nil
}

// Close releases the connection pool when the store owns one.
func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

// SaveReport persists the report row and its findings in one transaction.
func (s *Store) SaveReport(ctx context.Context, report *schemas.AuditReport) error {
	if report == nil || report.ID == "" {
		return errors.New("report must carry an ID")
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a successful commit reports ErrTxClosed; that is
		// the expected path, not an error.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	// Normalize the timestamp to UTC before insertion to prevent ambiguity.
	createdAt := report.CreatedAt.UTC()
	if report.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = tx.Exec(ctx, sqlInsertAudit,
		report.ID,
		report.Contract.Name,
		report.Contract.Address,
		report.Contract.Network,
		report.RiskScore,
		report.Aggregated.Degraded,
		json.RawMessage(payload),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit: %w", err)
	}

	if findings := report.Aggregated.Findings(); len(findings) > 0 {
		if err := s.persistFindings(ctx, tx, report.ID, findings); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Info("Audit saved",
		zap.String("auditID", report.ID),
		zap.String("contract", report.Contract.Name),
		zap.Float64("riskScore", report.RiskScore),
	)
	return nil
}

func (s *Store) persistFindings(ctx context.Context, tx pgx.Tx, auditID string, findings []schemas.Finding) error {
	rows := make([][]interface{}, len(findings))
	for i, f := range findings {
		rows[i] = []interface{}{
			f.ID, auditID, f.Detector,
			string(f.Severity), string(f.Category),
			f.Title, f.Description, f.Location, f.Line,
			f.Recommendation,
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"audit_findings"},
		findingColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy findings: %w", err)
	}
	if int(copyCount) != len(findings) {
		return fmt.Errorf("mismatch in copied findings count: expected %d, got %d", len(findings), copyCount)
	}

	return nil
}

// GetReport retrieves a stored report by ID. The JSONB payload is the
// source of truth; the relational columns exist for listing and queries.
func (s *Store) GetReport(ctx context.Context, id string) (*schemas.AuditReport, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, sqlSelectReport, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("audit %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query audit %s: %w", id, err)
	}

	var report schemas.AuditReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("failed to decode stored report %s: %w", id, err)
	}
	return &report, nil
}

// ListAudits returns the most recent audit records, newest first.
func (s *Store) ListAudits(ctx context.Context, limit int) ([]schemas.AuditRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.pool.Query(ctx, sqlListAudits, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audits: %w", err)
	}
	defer rows.Close()

	var records []schemas.AuditRecord
	for rows.Next() {
		var record schemas.AuditRecord
		err := rows.Scan(
			&record.ID, &record.ContractName, &record.Address, &record.Network,
			&record.RiskScore, &record.Degraded, &record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return records, nil
}
