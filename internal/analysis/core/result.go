package core

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
)

// ResultBuilder accumulates one detector run's checks, findings, and fix
// suggestions. It is the single place findings get their identity: IDs
// are assigned here, the category is derived from the title here, and
// high-severity findings are logged here.
type ResultBuilder struct {
	detector string
	logger   *zap.Logger
	result   schemas.DetectorResult
}

// NewResultBuilder creates a builder for the named detector.
func NewResultBuilder(detector string, logger *zap.Logger) *ResultBuilder {
	return &ResultBuilder{
		detector: detector,
		logger:   logger,
		result:   schemas.EmptyDetectorResult(detector),
	}
}

// SetCheck records the outcome of one named check. Detectors call this
// for every check in their fixed set, pass or fail, so the check-name set
// is identical across runs.
func (b *ResultBuilder) SetCheck(name string, passed bool) {
	b.result.Checks[name] = passed
}

// AddFinding records a finding, stamping its ID, detector, and category.
// A fix attached to the finding is also collected into the result's fix
// list. High and critical findings are surfaced on the log as they are
// recorded.
//
// IDs are derived from the finding's content and position rather than
// drawn randomly so that two runs over the same source produce identical
// results.
func (b *ResultBuilder) AddFinding(f schemas.Finding) {
	if f.ID == "" {
		seed := fmt.Sprintf("%s|%s|%s|%d", b.detector, f.Title, f.Location, len(b.result.Findings))
		f.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
	}
	f.Detector = b.detector
	f.Category = schemas.CategorizeTitle(f.Title)

	if f.Severity == schemas.SeverityHigh || f.Severity == schemas.SeverityCritical {
		b.logger.Warn("Vulnerability detected",
			zap.String("title", f.Title),
			zap.String("severity", string(f.Severity)),
			zap.String("location", f.Location),
		)
	}

	b.result.Findings = append(b.result.Findings, f)
	if f.Fix != nil {
		b.result.Fixes = append(b.result.Fixes, *f.Fix)
	}
}

// AddFix records a fix suggestion not tied to a single finding, such as a
// contract-wide pragma bump.
func (b *ResultBuilder) AddFix(fix schemas.FixSuggestion) {
	b.result.Fixes = append(b.result.Fixes, fix)
}

// Result returns the accumulated detector result.
func (b *ResultBuilder) Result() schemas.DetectorResult {
	return b.result
}
