// Package advisor turns a finished audit report into a short executive
// narrative using the Gemini API. Narration is strictly best-effort:
// callers log a failure and ship the deterministic report unchanged.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/config"
)

// ErrDisabled is returned by the noop advisor so callers can tell a
// disabled advisor from a failed one.
var ErrDisabled = errors.New("advisor disabled")

// maxPromptFindings caps how many findings are spelled out in the prompt;
// the rest are summarized as a count.
const maxPromptFindings = 15

const systemInstruction = `You are a senior smart contract security auditor writing for a
non-technical stakeholder. Produce a concise executive narrative (three to five short
paragraphs of plain prose, no markdown, no headings, no bullet lists) summarizing the audit
results you are given. Cover the overall risk posture, the most important findings and their
business impact, and the immediate next steps. Base every statement on the supplied data and
do not invent findings.`

// New builds the advisor selected by configuration: a Gemini-backed one
// when enabled, otherwise a noop that answers ErrDisabled.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.Advisor, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("cannot initialize advisor with nil dependencies")
	}

	if !cfg.Advisor.Enabled {
		logger.Debug("Advisor disabled, audit narratives will be skipped")
		return noopAdvisor{}, nil
	}
	if cfg.Advisor.APIKey == "" {
		return nil, errors.New("advisor is enabled but no API key is configured")
	}

	return NewGemini(ctx, cfg.Advisor, logger)
}

// noopAdvisor stands in when narration is switched off.
type noopAdvisor struct{}

func (noopAdvisor) Narrative(context.Context, *schemas.AuditReport) (string, error) {
	return "", ErrDisabled
}

func (noopAdvisor) Close() error { return nil }

// buildPrompt renders the report into the deterministic fact sheet the
// model narrates from. Findings arrive in sorted detector order, so the
// same report always produces the same prompt.
func buildPrompt(report *schemas.AuditReport) string {
	var sb strings.Builder

	name := report.Contract.Name
	if name == "" {
		name = "unnamed contract"
	}
	fmt.Fprintf(&sb, "Contract: %s", name)
	if report.Contract.Address != "" {
		fmt.Fprintf(&sb, " (%s)", report.Contract.Address)
	}
	if report.Contract.Network != "" {
		fmt.Fprintf(&sb, " on %s", report.Contract.Network)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Verified source: %t. Holds funds: %t.\n", report.Contract.IsVerified, report.Contract.HoldsFunds)
	fmt.Fprintf(&sb, "Risk score: %.2f / 10\n", report.RiskScore)

	summary := report.Aggregated.Summary
	fmt.Fprintf(&sb, "Checks passed: %d of %d\n", summary.PassedChecks, summary.TotalChecks)

	sb.WriteString("Severity counts:")
	for _, severity := range schemas.AllSeverities() {
		fmt.Fprintf(&sb, " %s=%d", severity, summary.SeverityCounts[severity])
	}
	sb.WriteString("\n")

	if len(report.Aggregated.FailedDetectors) > 0 {
		fmt.Fprintf(&sb, "Partial results: detectors %s failed and contributed nothing.\n",
			strings.Join(report.Aggregated.FailedDetectors, ", "))
	}

	findings := report.Aggregated.Findings()
	if len(findings) == 0 {
		sb.WriteString("Findings: none. All checks passed.\n")
	} else {
		sb.WriteString("Findings:\n")
		for i, finding := range findings {
			if i == maxPromptFindings {
				fmt.Fprintf(&sb, "...and %d more findings.\n", len(findings)-maxPromptFindings)
				break
			}
			fmt.Fprintf(&sb, "- [%s] %s (%s", strings.ToUpper(string(finding.Severity)), finding.Title, finding.Detector)
			if finding.Line > 0 {
				fmt.Fprintf(&sb, ", line %d", finding.Line)
			}
			sb.WriteString(")\n")
		}
	}

	if compounds := report.Reasoning.CompoundVulnerabilities; len(compounds) > 0 {
		sb.WriteString("Compound risks:\n")
		for _, compound := range compounds {
			fmt.Fprintf(&sb, "- %s (%.1fx): %s\n", compound.Name, compound.Multiplier, compound.Description)
		}
	}

	impact := report.Reasoning.BusinessImpact
	if impact.Level != "" {
		fmt.Fprintf(&sb, "Business impact: %s (overall %.1f/10; financial %.1f, reputational %.1f, operational %.1f, legal %.1f)\n",
			impact.Level, impact.Overall,
			impact.Financial.Score, impact.Reputational.Score, impact.Operational.Score, impact.Legal.Score)
	}

	plan := report.Reasoning.ActionPlan
	if len(plan.Items) > 0 {
		fmt.Fprintf(&sb, "Planned remediation: %s (%.2f person-days)\n", plan.EstimatedTime, plan.TotalEffortDays)
	}

	if len(report.Insights) > 0 {
		sb.WriteString("Key insights:\n")
		for _, insight := range report.Insights {
			fmt.Fprintf(&sb, "- %s\n", insight)
		}
	}

	return sb.String()
}
