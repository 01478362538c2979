// Package audit assembles the full analysis pipeline behind a single
// entrypoint. An Auditor parses the contract, fans the source out to the
// detector coordinator, runs deterministic reasoning over the combined
// findings, and decorates the result with insights, recommendations, and
// optional oracle and narrative enrichment before persisting it.
//
// The pipeline is best-effort by construction: optional collaborators
// (oracle, advisor, store) that fail are logged and skipped, never allowed
// to fail the audit itself.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/advisor"
	"github.com/ode0x/solaudit/internal/config"
	"github.com/ode0x/solaudit/internal/contract"
	"github.com/ode0x/solaudit/internal/coordinator"
	"github.com/ode0x/solaudit/internal/reasoning"
)

// auditIssueThreshold is the finding count above which a full professional
// audit is recommended on top of the per-category fixes.
const auditIssueThreshold = 5

// factSink is satisfied by oracles that accept structural facts about the
// contract under audit. Feeding facts is optional; an oracle that only
// answers queries still works.
type factSink interface {
	AddFact(ctx context.Context, expression string) error
}

// Deps carries the Auditor's collaborators. Coordinator, Parser, and
// Reasoner are required; Oracle, Store, and Advisor may be nil, in which
// case the corresponding enrichment step is skipped.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Parser      *contract.Parser
	Reasoner    *reasoning.Reasoner
	Oracle      schemas.Oracle
	Store       schemas.Store
	Advisor     schemas.Advisor
}

// Auditor runs the end-to-end audit pipeline.
type Auditor struct {
	coordinator *coordinator.Coordinator
	parser      *contract.Parser
	reasoner    *reasoning.Reasoner
	oracle      schemas.Oracle
	store       schemas.Store
	advisor     schemas.Advisor

	oracleTimeout time.Duration
	log           *zap.Logger
}

var _ schemas.Auditor = (*Auditor)(nil)

// New constructs an Auditor from its configuration and collaborators.
func New(cfg *config.Config, logger *zap.Logger, deps Deps) (*Auditor, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("cannot initialize auditor with nil dependencies")
	}
	if deps.Coordinator == nil {
		return nil, errors.New("auditor requires a detector coordinator")
	}
	if deps.Parser == nil {
		return nil, errors.New("auditor requires a contract parser")
	}
	if deps.Reasoner == nil {
		return nil, errors.New("auditor requires a reasoner")
	}

	return &Auditor{
		coordinator:   deps.Coordinator,
		parser:        deps.Parser,
		reasoner:      deps.Reasoner,
		oracle:        deps.Oracle,
		store:         deps.Store,
		advisor:       deps.Advisor,
		oracleTimeout: cfg.Oracle.Timeout,
		log:           logger.Named("auditor"),
	}, nil
}

// Audit runs every detector against the source, reasons over the combined
// findings, and returns the assembled report. Malformed or empty source is
// not an error: the detectors degrade to a best-effort result. The only
// error paths are a cancelled context and a nil receiver misuse.
func (a *Auditor) Audit(ctx context.Context, source string, meta schemas.ContractMeta) (*schemas.AuditReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("audit aborted: %w", err)
	}

	start := time.Now()
	a.log.Info("Audit started",
		zap.String("contract", meta.Name),
		zap.String("network", meta.Network),
		zap.Int("sourceBytes", len(source)),
	)

	structure := a.parser.Parse(source)
	aggregated := a.coordinator.RunAll(ctx, source)
	findings := aggregated.Findings()

	reasoned := a.reasoner.Reason(schemas.ReasoningContext{
		Meta:     meta,
		Findings: findings,
	})

	report := &schemas.AuditReport{
		ID:              uuid.NewString(),
		Contract:        meta,
		CreatedAt:       time.Now().UTC(),
		RiskScore:       reasoning.RiskScore(findings),
		Aggregated:      aggregated,
		Reasoning:       reasoned,
		Structure:       &structure,
		Insights:        Insights(findings),
		Recommendations: Recommendations(findings),
	}

	a.addOracleInsights(ctx, report)
	a.addNarrative(ctx, report)

	report.Duration = time.Since(start)

	if a.store != nil {
		if err := a.store.SaveReport(ctx, report); err != nil {
			a.log.Error("Failed to persist audit report", zap.String("auditID", report.ID), zap.Error(err))
		}
	}

	a.log.Info("Audit complete",
		zap.String("auditID", report.ID),
		zap.Float64("riskScore", report.RiskScore),
		zap.Int("findings", len(findings)),
		zap.Bool("degraded", aggregated.Degraded),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// addOracleInsights feeds the parsed contract structure to the oracle as
// facts and appends whatever insights it derives. Oracle failures degrade
// the audit to rule-only reasoning instead of failing it.
func (a *Auditor) addOracleInsights(ctx context.Context, report *schemas.AuditReport) {
	if a.oracle == nil {
		return
	}

	timeout := a.oracleTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	octx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if sink, ok := a.oracle.(factSink); ok && report.Structure != nil {
		for _, fact := range contract.Facts(*report.Structure) {
			if err := sink.AddFact(octx, fact); err != nil {
				a.log.Warn("Oracle rejected fact, proceeding rule-only", zap.Error(err))
				return
			}
		}
	}

	insights, err := a.oracle.Insights(octx, &report.Aggregated)
	if err != nil {
		a.log.Warn("Oracle unavailable, proceeding rule-only", zap.Error(err))
		return
	}
	report.Insights = append(report.Insights, insights...)
}

// addNarrative asks the advisor for an executive narrative. A disabled
// advisor is the normal offline path; anything else that fails is logged
// and the report ships without prose.
func (a *Auditor) addNarrative(ctx context.Context, report *schemas.AuditReport) {
	if a.advisor == nil {
		return
	}

	narrative, err := a.advisor.Narrative(ctx, report)
	if err != nil {
		if errors.Is(err, advisor.ErrDisabled) {
			a.log.Debug("Advisor disabled, skipping narrative")
		} else {
			a.log.Warn("Narrative generation failed", zap.Error(err))
		}
		return
	}
	report.Narrative = narrative
}

// Insights derives headline observations from the combined finding set.
// The output order is fixed: criticality first, then volume, then the
// reentrancy/access-control compound, then the all-clear.
func Insights(findings []schemas.Finding) []string {
	var insights []string

	criticals := 0
	highs := 0
	categories := make(map[schemas.Category]bool, len(findings))
	for _, f := range findings {
		switch f.Severity {
		case schemas.SeverityCritical:
			criticals++
		case schemas.SeverityHigh:
			highs++
		}
		categories[f.Category] = true
	}

	if criticals > 0 {
		insights = append(insights, fmt.Sprintf(
			"CRITICAL: Contract has %d critical vulnerabilities that could lead to complete loss of funds.", criticals))
	}
	if highs > 0 {
		insights = append(insights, fmt.Sprintf(
			"HIGH RISK: %d high-severity issues detected. Immediate remediation required before deployment.", highs))
	}
	if categories[schemas.CategoryReentrancy] && categories[schemas.CategoryAccessControl] {
		insights = append(insights,
			"COMPOUND RISK: Reentrancy vulnerability combined with weak access control creates elevated exploitation risk.")
	}
	if len(findings) == 0 {
		insights = append(insights,
			"SECURE: No critical vulnerabilities detected. Contract follows security best practices.")
	}

	return insights
}

// Recommendations maps the finding categories to remediation guidance.
// Each category contributes at most one entry, in a fixed order, with a
// whole-contract audit recommendation appended for noisy reports and a
// keep-it-up fallback for clean ones.
func Recommendations(findings []schemas.Finding) []string {
	var recs []string

	categories := make(map[schemas.Category]bool, len(findings))
	for _, f := range findings {
		categories[f.Category] = true
	}

	if categories[schemas.CategoryReentrancy] {
		recs = append(recs,
			"Implement ReentrancyGuard from OpenZeppelin or follow checks-effects-interactions pattern in all functions with external calls.")
	}
	if categories[schemas.CategoryAccessControl] {
		recs = append(recs,
			"Add proper access control modifiers (onlyOwner, onlyRole) to all privileged functions. Consider using OpenZeppelin's AccessControl.")
	}
	if categories[schemas.CategoryIntegerOverflow] {
		recs = append(recs,
			"Upgrade to Solidity 0.8.0 or later for built-in overflow protection, or use SafeMath library for arithmetic operations.")
	}
	if categories[schemas.CategoryExternalCall] {
		recs = append(recs,
			"Always check return values of external calls. Use transfer() or require() with call() for safer fund transfers.")
	}

	if len(findings) > auditIssueThreshold {
		recs = append(recs,
			"Contract has multiple security issues. Consider a comprehensive professional audit before mainnet deployment.")
	}
	if len(recs) == 0 {
		recs = append(recs,
			"Continue following security best practices and perform regular audits.")
	}

	return recs
}
