package schemas

import "context"

// -- Store Interface --

// Store defines a generic interface for persisting audit history. This
// abstraction keeps the application independent of the specific database
// implementation (e.g., PostgreSQL, in-memory).
type Store interface {
	// SaveReport persists a complete audit report and its findings.
	SaveReport(ctx context.Context, report *AuditReport) error
	// GetReport retrieves a stored audit report by its ID.
	GetReport(ctx context.Context, id string) (*AuditReport, error)
	// ListAudits returns the most recent audit records, newest first.
	ListAudits(ctx context.Context, limit int) ([]AuditRecord, error)
}

// -- Oracle Interface --

// Oracle is an optional inference collaborator the reasoning layer may
// consult for supplementary insight. Every call is best-effort: on error or
// timeout the caller proceeds with its built-in rule tables, and the
// deterministic parts of the output never change.
type Oracle interface {
	// Query evaluates a symbolic expression against the oracle's knowledge
	// base and returns the raw result text.
	Query(ctx context.Context, expression string) (string, error)
	// Insights derives supplementary advisory strings for a finished
	// report. They are additive only; callers drop them on error.
	Insights(ctx context.Context, report *AggregatedReport) ([]string, error)
}

// -- Advisor Interface --

// Advisor generates natural-language narrative from a finished report,
// abstracting the underlying model provider. Implementations must be safe
// to skip: a failed or disabled advisor leaves the report complete.
type Advisor interface {
	// Narrative produces an executive-summary prose rendering of the report.
	Narrative(ctx context.Context, report *AuditReport) (string, error)
	// Close cleans up any resources held by the client.
	Close() error
}

// -- Fetcher Interface --

// SourceFetcher retrieves contract source from a chain-data service.
type SourceFetcher interface {
	// FetchSource resolves a contract address on the named network to its
	// verified source text and metadata.
	FetchSource(ctx context.Context, address, network string) (*ContractSource, error)
}

// -- Auditor Interface --

// Auditor runs one complete audit over contract source. It is the seam
// between transport surfaces (CLI, HTTP, batch engine) and the engine.
type Auditor interface {
	Audit(ctx context.Context, source string, meta ContractMeta) (*AuditReport, error)
}
