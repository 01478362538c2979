package report

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/observability"
)

// categoryTitles maps category keys to section headings.
var categoryTitles = map[schemas.Category]string{
	schemas.CategoryReentrancy:          "Reentrancy",
	schemas.CategoryAccessControl:       "Access Control",
	schemas.CategoryIntegerOverflow:     "Integer Overflow",
	schemas.CategoryExternalCall:        "External Calls",
	schemas.CategoryFrontRunning:        "Front-Running",
	schemas.CategoryTimestampDependence: "Timestamp Dependence",
	schemas.CategoryDenialOfService:     "Denial of Service",
	schemas.CategoryGasOptimization:     "Gas Optimization",
	schemas.CategoryOther:               "Other",
}

// CategoryTitle returns the display heading for a category key.
func CategoryTitle(c schemas.Category) string {
	if title, ok := categoryTitles[c]; ok {
		return title
	}
	return string(c)
}

// MarkdownReporter renders human-readable audit documents. Each Write
// emits one complete document; batch runs produce a concatenated file
// with a rule between contracts.
type MarkdownReporter struct {
	writer io.WriteCloser
	logger *zap.Logger

	mu      sync.Mutex
	written int
}

// NewMarkdownReporter creates a reporter that writes Markdown output.
func NewMarkdownReporter(writer io.WriteCloser) *MarkdownReporter {
	return &MarkdownReporter{
		writer: writer,
		logger: observability.GetLogger().Named("markdown_reporter"),
	}
}

// Write renders the report and flushes it to the output immediately.
func (r *MarkdownReporter) Write(report *schemas.AuditReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sb strings.Builder
	if r.written > 0 {
		sb.WriteString("\n---\n\n")
	}

	r.writeHeader(&sb, report)
	r.writeSeverityBreakdown(&sb, report)
	r.writeInsights(&sb, report)
	r.writeFindings(&sb, report)
	r.writeRiskAssessment(&sb, report)
	r.writeRecommendations(&sb, report)
	r.writeActionPlan(&sb, report)
	r.writeNarrative(&sb, report)

	if _, err := io.WriteString(r.writer, sb.String()); err != nil {
		return fmt.Errorf("write markdown report: %w", err)
	}
	r.written++

	r.logger.Debug("Wrote markdown report",
		zap.String("reportID", report.ID),
		zap.Int("bytes", sb.Len()))
	return nil
}

// Close closes the underlying writer.
func (r *MarkdownReporter) Close() error {
	return r.writer.Close()
}

func (r *MarkdownReporter) writeHeader(sb *strings.Builder, report *schemas.AuditReport) {
	title := report.Contract.Name
	if title == "" {
		title = report.Contract.Address
	}
	if title == "" {
		sb.WriteString("# Smart Contract Security Audit\n\n")
	} else {
		fmt.Fprintf(sb, "# Smart Contract Security Audit: %s\n\n", title)
	}

	sb.WriteString("| | |\n| --- | --- |\n")
	if report.Contract.Name != "" {
		fmt.Fprintf(sb, "| **Contract** | %s |\n", report.Contract.Name)
	}
	if report.Contract.Address != "" {
		fmt.Fprintf(sb, "| **Address** | `%s` |\n", report.Contract.Address)
	}
	if report.Contract.Network != "" {
		fmt.Fprintf(sb, "| **Network** | %s |\n", report.Contract.Network)
	}
	if !report.CreatedAt.IsZero() {
		fmt.Fprintf(sb, "| **Audited** | %s |\n", report.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"))
	}
	fmt.Fprintf(sb, "| **Risk Score** | %.2f / 10 |\n", report.RiskScore)
	if report.Reasoning.BusinessImpact.Level != "" {
		fmt.Fprintf(sb, "| **Business Impact** | %s |\n", report.Reasoning.BusinessImpact.Level)
	}
	summary := report.Aggregated.Summary
	fmt.Fprintf(sb, "| **Checks Passed** | %d of %d |\n", summary.PassedChecks, summary.TotalChecks)
	sb.WriteString("\n")

	if report.Aggregated.Degraded {
		fmt.Fprintf(sb, "> **Partial results:** the following detectors failed and contributed no findings: %s.\n\n",
			strings.Join(report.Aggregated.FailedDetectors, ", "))
	}
}

func (r *MarkdownReporter) writeSeverityBreakdown(sb *strings.Builder, report *schemas.AuditReport) {
	sb.WriteString("## Severity Breakdown\n\n| Severity | Findings |\n| --- | --- |\n")
	for _, severity := range schemas.AllSeverities() {
		fmt.Fprintf(sb, "| %s | %d |\n",
			severityLabel(severity), report.Aggregated.Summary.SeverityCounts[severity])
	}
	sb.WriteString("\n")
}

func (r *MarkdownReporter) writeInsights(sb *strings.Builder, report *schemas.AuditReport) {
	if len(report.Insights) == 0 {
		return
	}
	sb.WriteString("## Key Insights\n\n")
	for _, insight := range report.Insights {
		fmt.Fprintf(sb, "- %s\n", insight)
	}
	sb.WriteString("\n")
}

func (r *MarkdownReporter) writeFindings(sb *strings.Builder, report *schemas.AuditReport) {
	findings := report.Aggregated.Findings()

	sb.WriteString("## Findings\n\n")
	if len(findings) == 0 {
		sb.WriteString("No issues found. All checks passed.\n\n")
		return
	}

	byCategory := make(map[schemas.Category][]schemas.Finding)
	for _, f := range findings {
		byCategory[f.Category] = append(byCategory[f.Category], f)
	}

	for _, category := range schemas.AllCategories() {
		group := byCategory[category]
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(sb, "### %s\n\n", CategoryTitle(category))
		for _, f := range group {
			r.writeFinding(sb, f)
		}
	}
}

func (r *MarkdownReporter) writeFinding(sb *strings.Builder, f schemas.Finding) {
	fmt.Fprintf(sb, "#### [%s] %s\n\n", strings.ToUpper(string(f.Severity)), f.Title)
	if f.Description != "" {
		fmt.Fprintf(sb, "%s\n\n", f.Description)
	}
	fmt.Fprintf(sb, "- **Detector:** `%s`\n", f.Detector)
	if f.Location != "" {
		fmt.Fprintf(sb, "- **Location:** %s\n", f.Location)
	}
	sb.WriteString("\n")
	if f.Recommendation != "" {
		fmt.Fprintf(sb, "**Recommendation:**\n\n%s\n\n", f.Recommendation)
	}
	if f.Fix != nil && f.Fix.Fixed != "" {
		if f.Fix.Line > 0 {
			fmt.Fprintf(sb, "**Suggested fix** (line %d):\n\n", f.Fix.Line)
		} else {
			sb.WriteString("**Suggested fix:**\n\n")
		}
		fmt.Fprintf(sb, "```solidity\n%s\n```\n\n", strings.TrimRight(f.Fix.Fixed, "\n"))
	}
}

func (r *MarkdownReporter) writeRiskAssessment(sb *strings.Builder, report *schemas.AuditReport) {
	impact := report.Reasoning.BusinessImpact
	if impact.Level == "" && len(report.Reasoning.CompoundVulnerabilities) == 0 {
		return
	}

	sb.WriteString("## Risk Assessment\n\n")
	if impact.Level != "" {
		sb.WriteString("| Impact | Score | Notes |\n| --- | --- | --- |\n")
		fmt.Fprintf(sb, "| Financial | %.1f | %s |\n", impact.Financial.Score, impact.Financial.Description)
		fmt.Fprintf(sb, "| Reputational | %.1f | %s |\n", impact.Reputational.Score, impact.Reputational.Description)
		fmt.Fprintf(sb, "| Operational | %.1f | %s |\n", impact.Operational.Score, impact.Operational.Description)
		fmt.Fprintf(sb, "| Legal | %.1f | %s |\n", impact.Legal.Score, impact.Legal.Description)
		fmt.Fprintf(sb, "| **Overall** | %.2f | %s |\n\n", impact.Overall, impact.Level)
	}

	if len(report.Reasoning.CompoundVulnerabilities) > 0 {
		sb.WriteString("**Compound vulnerabilities:**\n\n")
		for _, compound := range report.Reasoning.CompoundVulnerabilities {
			fmt.Fprintf(sb, "- **%s** (%s, %.1fx): %s\n",
				compound.Name, compound.Severity, compound.Multiplier, compound.Description)
		}
		sb.WriteString("\n")
	}
}

func (r *MarkdownReporter) writeRecommendations(sb *strings.Builder, report *schemas.AuditReport) {
	if len(report.Recommendations) == 0 {
		return
	}
	sb.WriteString("## Recommendations\n\n")
	for _, rec := range report.Recommendations {
		fmt.Fprintf(sb, "- %s\n", rec)
	}
	sb.WriteString("\n")
}

func (r *MarkdownReporter) writeActionPlan(sb *strings.Builder, report *schemas.AuditReport) {
	plan := report.Reasoning.ActionPlan
	if len(plan.Items) == 0 {
		return
	}

	sb.WriteString("## Action Plan\n\n")
	fmt.Fprintf(sb, "**Estimated effort:** %s (%.2f person-days)\n\n", plan.EstimatedTime, plan.TotalEffortDays)

	for i, item := range plan.Items {
		fmt.Fprintf(sb, "%d. **%s** — %s\n", i+1, item.Priority, item.Timeframe)
		for _, action := range item.Actions {
			fmt.Fprintf(sb, "   - %s\n", action)
		}
		if len(item.Compounds) > 0 {
			fmt.Fprintf(sb, "   - Compounds: %s\n", strings.Join(item.Compounds, "; "))
		}
	}
	sb.WriteString("\n")

	if len(plan.TestingRequirements) > 0 {
		sb.WriteString("**Testing requirements:**\n\n")
		for _, req := range plan.TestingRequirements {
			fmt.Fprintf(sb, "- %s\n", req)
		}
		sb.WriteString("\n")
	}
}

func (r *MarkdownReporter) writeNarrative(sb *strings.Builder, report *schemas.AuditReport) {
	if report.Narrative == "" {
		return
	}
	sb.WriteString("## Advisor Notes\n\n")
	sb.WriteString(strings.TrimSpace(report.Narrative))
	sb.WriteString("\n")
}

// severityLabel renders a severity constant with a leading capital.
func severityLabel(s schemas.Severity) string {
	str := string(s)
	if str == "" {
		return str
	}
	return strings.ToUpper(str[:1]) + str[1:]
}
