package reentrancy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/analysis/core"
)

// DetectorKey is the stable registry key for this detector.
const DetectorKey = "reentrancy"

// stateWriteWindow is how many lines after an external call are scanned
// for a state write before the call is considered reentrancy-safe.
const stateWriteWindow = 4

// ceiWindow is how many lines before an external call are scanned for a
// prior state write when judging checks-effects-interactions ordering.
const ceiWindow = 5

var (
	regexGuard        = regexp.MustCompile(`ReentrancyGuard|nonReentrant`)
	regexExternalCall = regexp.MustCompile(`\.call\{|\.transfer\(|\.send\(`)
	regexStateWrite   = regexp.MustCompile(`(\w+)\s*[+\-*/%]?=`)
	regexSensitive    = regexp.MustCompile(`(?i)balance|amount|shares|deposit`)
	regexFunctionName = regexp.MustCompile(`function\s+(\w+)`)

	pullPatterns = []*regexp.Regexp{
		regexp.MustCompile(`function\s+withdraw\s*\(`),
		regexp.MustCompile(`mapping\s*\([^)]+\)\s*\w*balance`),
		regexp.MustCompile(`pendingWithdrawals`),
	}
)

// vulnerablePattern is one external call with a sensitive state write
// inside its trailing window.
type vulnerablePattern struct {
	function string
	line     int // 1-based line of the external call
	code     string
}

type Detector struct {
	*core.BaseDetector
	logger *zap.Logger
}

// NewDetector creates the reentrancy detector.
func NewDetector(logger *zap.Logger) *Detector {
	base := core.NewBaseDetector(
		DetectorKey,
		"Reentrancy Detector",
		"Detects reentrancy vulnerabilities: state changes after external calls, missing reentrancy guards, and checks-effects-interactions violations.",
		logger,
	)

	return &Detector{
		BaseDetector: base,
		logger:       base.Logger,
	}
}

// Detect scans the contract for external calls that are followed by state
// writes without a reentrancy guard in place.
func (d *Detector) Detect(ctx context.Context, src *core.Source) (schemas.DetectorResult, error) {
	if src == nil {
		src = core.NewSource("")
	}
	b := core.NewResultBuilder(DetectorKey, d.logger)

	hasGuard := regexGuard.MatchString(src.Raw)
	b.SetCheck("reentrancy_guard_present", hasGuard)

	b.SetCheck("checks_effects_interactions", d.checkCEIPattern(src))

	vulnerable, err := d.findVulnerablePatterns(ctx, src)
	if err != nil {
		return b.Result(), err
	}
	b.SetCheck("no_state_after_call", len(vulnerable) == 0)

	b.SetCheck("uses_pull_payment", core.AnyMatch(pullPatterns, src.Raw))

	if !hasGuard {
		for _, pattern := range vulnerable {
			b.AddFinding(schemas.Finding{
				Severity: schemas.SeverityHigh,
				Title:    "Reentrancy Vulnerability Detected",
				Description: fmt.Sprintf(
					"Function '%s' performs external call at line %d followed by state changes. "+
						"This allows attackers to reenter and drain funds.",
					pattern.function, pattern.line,
				),
				Location: fmt.Sprintf("Line %d", pattern.line),
				Line:     pattern.line,
				Recommendation: "1. Implement ReentrancyGuard from OpenZeppelin\n" +
					"2. Follow checks-effects-interactions pattern\n" +
					"3. Update state before external calls",
				Fix: &schemas.FixSuggestion{
					Issue:    "Missing ReentrancyGuard",
					Line:     pattern.line,
					Original: pattern.code,
					Fixed:    d.generateGuardedCode(pattern),
					Explanation: "Added nonReentrant modifier to prevent reentrant calls; " +
						"move state updates before the external call to restore checks-effects-interactions ordering.",
				},
			})
		}
	}

	return b.Result(), nil
}

// checkCEIPattern reports whether any external call is preceded by a
// state write in the lines just above it, the shape checks-effects-
// interactions ordering produces.
func (d *Detector) checkCEIPattern(src *core.Source) bool {
	for i, line := range src.Lines {
		if !regexExternalCall.MatchString(line) {
			continue
		}
		for _, prev := range core.Before(src.Lines, i, ceiWindow) {
			if regexStateWrite.MatchString(prev) {
				return true
			}
		}
	}
	return false
}

// findVulnerablePatterns locates external calls followed within the state
// write window by an assignment touching balance-like state.
func (d *Detector) findVulnerablePatterns(ctx context.Context, src *core.Source) ([]vulnerablePattern, error) {
	var vulnerable []vulnerablePattern

	for i, line := range src.Lines {
		if err := ctx.Err(); err != nil {
			return vulnerable, err
		}
		if !regexExternalCall.MatchString(line) {
			continue
		}

		for offset, next := range core.After(src.Lines, i, stateWriteWindow) {
			if !regexStateWrite.MatchString(next) || !regexSensitive.MatchString(next) {
				continue
			}
			j := i + 1 + offset
			vulnerable = append(vulnerable, vulnerablePattern{
				function: d.enclosingFunction(src.Lines, i),
				line:     i + 1,
				code:     snippet(src.Lines, i, j),
			})
			break
		}
	}

	return vulnerable, nil
}

// enclosingFunction walks backwards from the call line to the nearest
// function declaration.
func (d *Detector) enclosingFunction(lines []string, from int) string {
	for i := from; i >= 0; i-- {
		if m := regexFunctionName.FindStringSubmatch(lines[i]); m != nil {
			return m[1]
		}
	}
	return "unknown"
}

// generateGuardedCode rewrites the vulnerable snippet with a nonReentrant
// modifier on the enclosing function and an ordering note.
func (d *Detector) generateGuardedCode(pattern vulnerablePattern) string {
	fixed := pattern.code
	if pattern.function != "unknown" {
		declRe := regexp.MustCompile(`function\s+` + regexp.QuoteMeta(pattern.function) + `\s*\(([^)]*)\)`)
		fixed = declRe.ReplaceAllString(fixed, "function "+pattern.function+"($1) nonReentrant")
	}
	return fixed + "\n// Move state updates above the external call."
}

// snippet extracts the code context around a call/state-write pair: two
// lines of lead-in through one line past the state write.
func snippet(lines []string, callLine, stateLine int) string {
	from := callLine - 2
	if from < 0 {
		from = 0
	}
	to := stateLine + 2
	if to > len(lines) {
		to = len(lines)
	}
	return strings.Join(lines[from:to], "\n")
}
