package report

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/observability"
	"github.com/ode0x/solaudit/internal/report/sarif"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "solaudit"
	ToolInfoURI  = "https://github.com/ode0x/solaudit"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
)

// ruleIDSanitizer replaces characters not safe in SARIF rule IDs. We
// allow alphanumerics, underscore, and dot; everything else collapses to
// a single hyphen.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

// RuleFingerprint uniquely identifies a rule definition by its content.
type RuleFingerprint string

// calculateFingerprint hashes the defining characteristics of a finding
// so identical rules reported by different runs share one definition.
func calculateFingerprint(finding schemas.Finding) RuleFingerprint {
	data := struct {
		Title          string
		Description    string
		Recommendation string
		Category       string
	}{
		Title:          finding.Title,
		Description:    finding.Description,
		Recommendation: finding.Recommendation,
		Category:       string(finding.Category),
	}

	h := sha1.New()
	// Encoding errors are not possible for this flat struct.
	_ = json.NewEncoder(h).Encode(data)
	return RuleFingerprint(hex.EncodeToString(h.Sum(nil)))
}

// SARIFReporter implements the Reporter interface for the SARIF 2.1.0
// format. It is thread safe.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log
	// mu protects the log structure and the maps.
	mu sync.Mutex
	// rulesByFingerprint maps a content fingerprint to the generated rule ID.
	rulesByFingerprint map[RuleFingerprint]string
	// ruleIDUsage tracks how many times a base rule ID has been used, to
	// suffix collisions between distinct definitions.
	ruleIDUsage map[string]int
}

// NewSARIFReporter creates a reporter that writes SARIF output. The tool
// version is injected by the caller.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string) *SARIFReporter {
	logger := observability.GetLogger().Named("sarif_reporter")

	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						// Empty slices (not nil) for proper JSON marshalling.
						Rules: []*sarif.ReportingDescriptor{},
					},
				},
				Results: []*sarif.Result{},
			},
		},
	}

	return &SARIFReporter{
		writer:             writer,
		logger:             logger,
		log:                log,
		rulesByFingerprint: make(map[RuleFingerprint]string),
		ruleIDUsage:        make(map[string]int),
	}
}

// Write converts an audit report's findings into SARIF results and adds
// them to the log.
func (r *SARIFReporter) Write(report *schemas.AuditReport) error {
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	artifact := artifactURI(report)
	findingsCount := 0

	for _, finding := range report.Aggregated.Findings() {
		ruleID := r.ensureRule(finding)

		messageText := finding.Description
		if messageText == "" {
			messageText = finding.Title
		}

		sarifResult := &sarif.Result{
			RuleID:    ruleID,
			Message:   &sarif.Message{Text: pString(messageText)},
			Level:     mapSeverityToSARIFLevel(finding.Severity),
			Locations: createLocations(finding, artifact),
		}
		run.Results = append(run.Results, sarifResult)
		findingsCount++
	}

	if findingsCount > 0 {
		r.logger.Debug("Wrote findings to SARIF buffer",
			zap.Int("findingsCount", findingsCount),
			zap.Duration("duration", time.Since(startTime)),
		)
	}

	return nil
}

// Close finalizes the SARIF log and writes it to the output writer.
func (r *SARIFReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var resultsCount, rulesCount int
	if len(r.log.Runs) > 0 && r.log.Runs[0] != nil {
		resultsCount = len(r.log.Runs[0].Results)
		if r.log.Runs[0].Tool != nil && r.log.Runs[0].Tool.Driver != nil {
			rulesCount = len(r.log.Runs[0].Tool.Driver.Rules)
		}
	}

	r.logger.Info("Finalizing SARIF report",
		zap.Int("totalResults", resultsCount),
		zap.Int("totalRules", rulesCount),
	)

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")

	encodeErr := encoder.Encode(r.log)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log to JSON", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}

// sanitizeRuleName creates a standardized base name for the rule ID.
func sanitizeRuleName(name string) string {
	if name == "" {
		return "UNNAMED-CHECK"
	}

	sanitized := strings.ToUpper(name)
	sanitized = ruleIDSanitizer.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-")

	if sanitized == "" {
		return "UNNAMED-CHECK"
	}
	return sanitized
}

// ensureRule ensures a unique rule definition exists for the finding and
// returns its ID. Must be called while holding the mutex.
func (r *SARIFReporter) ensureRule(finding schemas.Finding) string {
	fingerprint := calculateFingerprint(finding)
	if ruleID, exists := r.rulesByFingerprint[fingerprint]; exists {
		return ruleID
	}

	baseRuleID := "SOLAUDIT-" + sanitizeRuleName(finding.Title)

	usageCount := r.ruleIDUsage[baseRuleID]
	r.ruleIDUsage[baseRuleID] = usageCount + 1

	finalRuleID := baseRuleID
	if usageCount > 0 {
		// Same title, different content: suffix the ID.
		finalRuleID = fmt.Sprintf("%s-%d", baseRuleID, usageCount)
	}

	markdownHelp := fmt.Sprintf("**Vulnerability:** %s\n\n**Description:**\n%s\n\n**Recommendation:**\n%s",
		finding.Title, finding.Description, finding.Recommendation)

	newRule := &sarif.ReportingDescriptor{
		ID:               finalRuleID,
		Name:             pString(finding.Title),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString(finding.Title)},
		FullDescription:  &sarif.MultiformatMessageString{Text: pString(finding.Description)},
		Help: &sarif.MultiformatMessageString{
			Text:     pString(finding.Recommendation),
			Markdown: pString(markdownHelp),
		},
		Properties: &sarif.PropertyBag{
			"tags":     []string{"security", "solidity"},
			"category": string(finding.Category),
			"detector": finding.Detector,
		},
	}

	driver := r.log.Runs[0].Tool.Driver
	driver.Rules = append(driver.Rules, newRule)
	r.rulesByFingerprint[fingerprint] = finalRuleID
	return finalRuleID
}

// createLocations converts finding details into SARIF location objects.
func createLocations(finding schemas.Finding, artifact string) []*sarif.Location {
	physical := &sarif.PhysicalLocation{
		ArtifactLocation: &sarif.ArtifactLocation{
			URI: pString(artifact),
		},
	}
	if finding.Line > 0 {
		physical.Region = &sarif.Region{StartLine: finding.Line}
	}

	msgText := finding.Location
	if msgText == "" {
		msgText = artifact
	}

	return []*sarif.Location{{
		PhysicalLocation: physical,
		Message:          &sarif.Message{Text: pString(msgText)},
	}}
}

// artifactURI picks the best identifier for the audited source: the
// contract name, then the chain address, then a generic placeholder.
func artifactURI(report *schemas.AuditReport) string {
	switch {
	case report.Contract.Name != "":
		return report.Contract.Name
	case report.Contract.Address != "":
		return report.Contract.Address
	default:
		return "contract.sol"
	}
}

// mapSeverityToSARIFLevel converts finding severities to the SARIF standard.
func mapSeverityToSARIFLevel(severity schemas.Severity) sarif.Level {
	switch severity {
	case schemas.SeverityCritical, schemas.SeverityHigh:
		return sarif.LevelError
	case schemas.SeverityMedium:
		return sarif.LevelWarning
	case schemas.SeverityLow, schemas.SeverityInfo:
		return sarif.LevelNote
	default:
		return sarif.LevelNote
	}
}

// pString returns a pointer to the given string value. Helper for
// optional SARIF fields.
func pString(s string) *string {
	return &s
}
