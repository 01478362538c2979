// Package ui renders audit results for the terminal.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/engine"
)

// StartSpinner begins an animated progress indicator for long operations
// like explorer fetches.
func StartSpinner(text string) *pterm.SpinnerPrinter {
	spinner, _ := pterm.DefaultSpinner.Start(text)
	return spinner
}

// PrintReport renders one audit report as a terminal summary: headline,
// severity breakdown, findings table, insights, and recommendations.
func PrintReport(report *schemas.AuditReport) {
	if report == nil {
		return
	}

	name := report.Contract.Name
	if name == "" {
		name = "unnamed contract"
	}
	pterm.DefaultSection.Printf("Audit: %s", name)

	summary := [][]string{
		{"Risk Score", riskStyle(report.RiskScore).Sprintf("%.2f / 10", report.RiskScore)},
		{"Checks Passed", fmt.Sprintf("%d of %d", report.Aggregated.Summary.PassedChecks, report.Aggregated.Summary.TotalChecks)},
		{"Findings", fmt.Sprintf("%d", len(report.Aggregated.Findings()))},
	}
	if report.Contract.Address != "" {
		summary = append(summary, []string{"Address", report.Contract.Address})
	}
	if report.Contract.Network != "" {
		summary = append(summary, []string{"Network", report.Contract.Network})
	}
	if report.Duration > 0 {
		summary = append(summary, []string{"Duration", report.Duration.Round(time.Millisecond).String()})
	}
	_ = pterm.DefaultTable.WithData(summary).Render()

	if report.Aggregated.Degraded {
		pterm.Warning.Printf("Partial results: detectors %s failed.\n",
			strings.Join(report.Aggregated.FailedDetectors, ", "))
	}

	printFindings(report.Aggregated.Findings())
	printList("Insights", report.Insights)
	printList("Recommendations", report.Recommendations)

	if report.Narrative != "" {
		pterm.DefaultSection.WithLevel(2).Println("Executive Narrative")
		pterm.Println(report.Narrative)
	}
}

// PrintBatch renders the outcome of a directory audit, one row per file.
func PrintBatch(batch *engine.BatchResult) {
	if batch == nil {
		return
	}

	pterm.DefaultSection.Println("Batch Audit")

	data := [][]string{{"Contract", "Risk", "Findings", "Status"}}
	for _, res := range batch.Results {
		if res.Err != nil {
			data = append(data, []string{res.Path, "-", "-", pterm.FgRed.Sprint("FAILED")})
			continue
		}
		data = append(data, []string{
			res.Path,
			riskStyle(res.Report.RiskScore).Sprintf("%.2f", res.Report.RiskScore),
			fmt.Sprintf("%d", len(res.Report.Aggregated.Findings())),
			pterm.FgGreen.Sprint("OK"),
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()

	if batch.Cancelled {
		pterm.Warning.Println("Batch was interrupted; results above are partial.")
	}
	pterm.Printf("%d audited, %d failed in %s\n",
		batch.Completed, batch.Failed, batch.Duration.Round(time.Millisecond))
}

// PrintHistory renders stored audit records as a table, newest first.
func PrintHistory(records []schemas.AuditRecord) {
	if len(records) == 0 {
		pterm.Info.Println("No stored audits yet.")
		return
	}

	pterm.DefaultSection.Println("Audit History")

	data := [][]string{{"ID", "Contract", "Network", "Risk", "Created"}}
	for _, rec := range records {
		name := rec.ContractName
		if name == "" {
			name = rec.Address
		}
		data = append(data, []string{
			rec.ID,
			name,
			rec.Network,
			riskStyle(rec.RiskScore).Sprintf("%.2f", rec.RiskScore),
			rec.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func printFindings(findings []schemas.Finding) {
	if len(findings) == 0 {
		pterm.Success.Println("No vulnerabilities detected.")
		return
	}

	pterm.Warning.Printf("Found %d issues:\n", len(findings))

	data := [][]string{{"Severity", "Finding", "Location", "Detector"}}
	for _, f := range findings {
		location := f.Location
		if location == "" {
			location = "-"
		}
		data = append(data, []string{
			severityStyle(f.Severity).Sprint(strings.ToUpper(string(f.Severity))),
			f.Title,
			location,
			pterm.FgCyan.Sprint(f.Detector),
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func printList(title string, items []string) {
	if len(items) == 0 {
		return
	}
	pterm.DefaultSection.WithLevel(2).Println(title)
	for _, item := range items {
		pterm.Printf("  • %s\n", item)
	}
}

func severityStyle(s schemas.Severity) pterm.Color {
	switch s {
	case schemas.SeverityCritical, schemas.SeverityHigh:
		return pterm.FgRed
	case schemas.SeverityMedium:
		return pterm.FgYellow
	case schemas.SeverityLow:
		return pterm.FgBlue
	default:
		return pterm.FgGray
	}
}

func riskStyle(score float64) pterm.Color {
	switch {
	case score >= 7:
		return pterm.FgRed
	case score >= 4:
		return pterm.FgYellow
	default:
		return pterm.FgGreen
	}
}
