package schemas

import "time"

// -- Audit Report Schemas --

// AuditReport is the complete output of one audit run: the aggregated
// detector results, the reasoning layer's assessment, and the derived
// scores and guidance. It is the unit of persistence and rendering.
type AuditReport struct {
	ID        string       `json:"id"`
	Contract  ContractMeta `json:"contract"`
	CreatedAt time.Time    `json:"created_at"`

	// RiskScore is recomputed from the finding set on every assembly,
	// never read back from storage as authoritative.
	RiskScore float64 `json:"risk_score"`

	Aggregated AggregatedReport `json:"aggregated"`
	Reasoning  ReasoningResult  `json:"reasoning"`

	// Structure is the lexical outline of the audited source, when parsed.
	Structure *ContractStructure `json:"structure,omitempty"`

	// Insights are supplementary strings; oracle-derived entries may be
	// missing when the oracle is unavailable, and nothing else changes.
	Insights        []string `json:"insights,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`

	// Narrative is optional advisor-generated prose. Empty when the
	// advisor is disabled or failed; the report is complete without it.
	Narrative string `json:"narrative,omitempty"`

	Duration time.Duration `json:"duration_ns,omitempty"`
}

// AuditRecord is the lightweight listing row for stored audits.
type AuditRecord struct {
	ID           string    `json:"id"`
	ContractName string    `json:"contract_name,omitempty"`
	Address      string    `json:"address,omitempty"`
	Network      string    `json:"network,omitempty"`
	RiskScore    float64   `json:"risk_score"`
	Degraded     bool      `json:"degraded,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
