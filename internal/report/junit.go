package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/observability"
)

// JUnitReporter renders audit results as JUnit XML for CI pipelines: one
// test suite per detector, one test case per check, and one failing test
// case per finding so every issue shows up red in the pipeline UI.
type JUnitReporter struct {
	writer io.WriteCloser
	logger *zap.Logger

	mu            sync.Mutex
	doc           *etree.Document
	root          *etree.Element
	totalTests    int
	totalFailures int
}

// NewJUnitReporter creates a reporter that writes JUnit XML output.
func NewJUnitReporter(writer io.WriteCloser, toolVersion string) *JUnitReporter {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("testsuites")
	root.CreateAttr("name", ToolName)
	if toolVersion != "" {
		root.CreateAttr("version", toolVersion)
	}

	return &JUnitReporter{
		writer: writer,
		logger: observability.GetLogger().Named("junit_reporter"),
		doc:    doc,
		root:   root,
	}
}

// Write adds one test suite per detector from the report.
func (r *JUnitReporter) Write(report *schemas.AuditReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := suitePrefix(report)

	keys := make([]string, 0, len(report.Aggregated.Results))
	for key := range report.Aggregated.Results {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		result := report.Aggregated.Results[key]
		r.writeSuite(report, prefix, key, result)
	}

	r.logger.Debug("Wrote JUnit suites",
		zap.String("reportID", report.ID),
		zap.Int("suites", len(keys)))
	return nil
}

func (r *JUnitReporter) writeSuite(report *schemas.AuditReport, prefix, detector string, result schemas.DetectorResult) {
	suiteName := detector
	if prefix != "" {
		suiteName = prefix + "/" + detector
	}
	classname := "solaudit." + detector

	suite := r.root.CreateElement("testsuite")
	suite.CreateAttr("name", suiteName)
	if !report.CreatedAt.IsZero() {
		suite.CreateAttr("timestamp", report.CreatedAt.UTC().Format(time.RFC3339))
	}

	tests := 0
	failures := 0

	checkNames := make([]string, 0, len(result.Checks))
	for name := range result.Checks {
		checkNames = append(checkNames, name)
	}
	sort.Strings(checkNames)

	for _, name := range checkNames {
		tests++
		tc := suite.CreateElement("testcase")
		tc.CreateAttr("name", name)
		tc.CreateAttr("classname", classname)

		if !result.Checks[name] {
			failures++
			failure := tc.CreateElement("failure")
			failure.CreateAttr("message", name+" did not pass")
			failure.CreateAttr("type", "check")
		}
	}

	for _, finding := range result.Findings {
		tests++
		failures++

		caseName := finding.Title
		if finding.Location != "" {
			caseName = fmt.Sprintf("%s (%s)", finding.Title, finding.Location)
		}

		tc := suite.CreateElement("testcase")
		tc.CreateAttr("name", caseName)
		tc.CreateAttr("classname", classname)

		failure := tc.CreateElement("failure")
		failure.CreateAttr("message", fmt.Sprintf("[%s] %s", strings.ToUpper(string(finding.Severity)), finding.Title))
		failure.CreateAttr("type", string(finding.Severity))
		failure.SetText(failureBody(finding))
	}

	suite.CreateAttr("tests", strconv.Itoa(tests))
	suite.CreateAttr("failures", strconv.Itoa(failures))

	r.totalTests += tests
	r.totalFailures += failures
}

// failureBody assembles the descriptive text inside a failure element.
func failureBody(finding schemas.Finding) string {
	var sb strings.Builder
	sb.WriteString(finding.Description)
	if finding.Location != "" {
		sb.WriteString("\n\nLocation: ")
		sb.WriteString(finding.Location)
	}
	if finding.Recommendation != "" {
		sb.WriteString("\n\nRecommendation:\n")
		sb.WriteString(finding.Recommendation)
	}
	return sb.String()
}

// suitePrefix picks the contract identifier used to namespace suites in
// batch runs.
func suitePrefix(report *schemas.AuditReport) string {
	if report.Contract.Name != "" {
		return report.Contract.Name
	}
	return report.Contract.Address
}

// Close finalizes the document and writes it to the output writer.
func (r *JUnitReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.root.CreateAttr("tests", strconv.Itoa(r.totalTests))
	r.root.CreateAttr("failures", strconv.Itoa(r.totalFailures))

	r.logger.Info("Finalizing JUnit report",
		zap.Int("totalTests", r.totalTests),
		zap.Int("totalFailures", r.totalFailures))

	r.doc.Indent(2)
	_, encodeErr := r.doc.WriteTo(r.writer)
	closeErr := r.writer.Close()

	if encodeErr != nil {
		return fmt.Errorf("failed to encode JUnit output: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}
