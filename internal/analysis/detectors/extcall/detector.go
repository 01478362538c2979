package extcall

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
const DetectorKey = "external-calls"

// returnCheckWindow is how many lines after a low-level call are scanned
// for a success check before the call counts as unchecked.
const returnCheckWindow = 2

// targetContextWindow is how many lines before a delegatecall are joined
// into the context inspected for user-controlled target markers.
const targetContextWindow = 3

var (
	regexLowLevelCall = regexp.MustCompile(`\.call\(|\.call\{`)
	regexTransfer     = regexp.MustCompile(`\.transfer\(`)
	regexDelegatecall = regexp.MustCompile(`\.delegatecall\(`)
	regexGasLimit     = regexp.MustCompile(`\.call\{gas:`)
	regexBoolReturn   = regexp.MustCompile(`\(bool`)

	returnCheckPatterns = []*regexp.Regexp{
		regexp.MustCompile(`require\s*\(`),
		regexp.MustCompile(`assert\s*\(`),
		regexp.MustCompile(`if\s*\(`),
		regexp.MustCompile(`\(bool\s+\w+`),
	}

	// Markers that the delegatecall target flows from caller input.
	userControlledPatterns = []*regexp.Regexp{
		regexp.MustCompile(`msg\.sender`),
		regexp.MustCompile(`_to\b`),
		regexp.MustCompile(`target\b`),
		regexp.MustCompile(`_address\b`),
		regexp.MustCompile(`addr\b`),
	}
	// Markers that the target is pinned: named implementations, constants.
	trustedTargetPatterns = []*regexp.Regexp{
		regexp.MustCompile(`implementation\b`),
		regexp.MustCompile(`LOGIC_CONTRACT\b`),
		regexp.MustCompile(`constant\b`),
		regexp.MustCompile(`immutable\b`),
	}

	pullPatterns = []*regexp.Regexp{
		regexp.MustCompile(`function\s+withdraw\s*\(`),
		regexp.MustCompile(`function\s+claim\s*\(`),
		regexp.MustCompile(`mapping\s*\([^)]+\)\s*\w*balances\w*`),
		regexp.MustCompile(`pendingWithdrawals`),
	}
)

type callSite struct {
	line int // 1-based
	code string
}

type Detector struct {
	*core.BaseDetector
	logger *zap.Logger
}

// NewDetector creates the external-calls detector.
func NewDetector(logger *zap.Logger) *Detector {
	base := core.NewBaseDetector(
		DetectorKey,
		"External Calls Detector",
		"Detects unchecked low-level calls, delegatecalls to user-controlled targets, and push-payment patterns.",
		logger,
	)

	return &Detector{
		BaseDetector: base,
		logger:       base.Logger,
	}
}

// Detect scans every external call site for missing success checks and
// untrusted delegatecall targets.
func (d *Detector) Detect(ctx context.Context, src *core.Source) (schemas.DetectorResult, error) {
	if src == nil {
		src = core.NewSource("")
	}
	b := core.NewResultBuilder(DetectorKey, d.logger)

	unchecked, err := d.findUncheckedCalls(ctx, src)
	if err != nil {
		return b.Result(), err
	}
	b.SetCheck("low_level_calls_checked", len(unchecked) == 0)

	transferCount := d.countTransfers(src)
	b.SetCheck("uses_safe_transfer", transferCount > 0)

	unsafeDelegates, err := d.findUnsafeDelegatecalls(ctx, src)
	if err != nil {
		return b.Result(), err
	}
	b.SetCheck("safe_delegatecall_usage", len(unsafeDelegates) == 0)

	usesPull := core.AnyMatch(pullPatterns, src.Raw)
	b.SetCheck("uses_pull_payment_pattern", usesPull)

	b.SetCheck("has_gas_limits", regexGasLimit.MatchString(src.Raw))

	for _, call := range unchecked {
		b.AddFinding(schemas.Finding{
			Severity: schemas.SeverityMedium,
			Title:    "Unchecked Low-Level Call",
			Description: fmt.Sprintf(
				"Low-level call at line %d does not check return value. Failed calls will "+
					"silently continue execution, potentially leading to unexpected behavior.",
				call.line,
			),
			Location: fmt.Sprintf("Line %d", call.line),
			Line:     call.line,
			Recommendation: "1. Check return value with require()\n" +
				"2. Or use transfer() for sending ETH\n" +
				"3. Handle failure cases explicitly",
			Fix: &schemas.FixSuggestion{
				Issue:       "Unchecked call return value",
				Line:        call.line,
				Original:    call.code,
				Fixed:       generateCheckedCall(call.code),
				Explanation: "Add require() to check call success and handle failures",
			},
		})
	}

	for _, dc := range unsafeDelegates {
		b.AddFinding(schemas.Finding{
			Severity: schemas.SeverityCritical,
			Title:    "Unsafe Delegatecall to Untrusted Address",
			Description: fmt.Sprintf(
				"Delegatecall at line %d uses user-controlled address. This allows arbitrary "+
					"code execution in contract's context, potentially allowing attackers to "+
					"modify storage and steal funds.",
				dc.line,
			),
			Location: fmt.Sprintf("Line %d", dc.line),
			Line:     dc.line,
			Recommendation: "1. Only delegatecall to whitelisted, trusted addresses\n" +
				"2. Implement address whitelist mapping\n" +
				"3. Consider using library calls instead",
			Fix: &schemas.FixSuggestion{
				Issue:       "Unsafe delegatecall",
				Line:        dc.line,
				Original:    dc.code,
				Fixed:       generateWhitelistedDelegatecall(dc.code),
				Explanation: "Add whitelist check before delegatecall to prevent arbitrary code execution",
			},
		})
	}

	if !usesPull && transferCount > 0 {
		b.AddFinding(schemas.Finding{
			Severity: schemas.SeverityLow,
			Title:    "Push Payment Denial of Service Risk",
			Description: "Contract uses push payments (direct transfers). Consider implementing " +
				"pull payment pattern where users withdraw funds themselves. This prevents " +
				"DoS attacks and reduces gas costs.",
			Location:       "Multiple locations",
			Recommendation: "Implement withdrawal pattern with mapping for pending balances",
		})
	}

	return b.Result(), nil
}

// findUncheckedCalls returns low-level call sites with no success check
// on the call line or in the window below it.
func (d *Detector) findUncheckedCalls(ctx context.Context, src *core.Source) ([]callSite, error) {
	var unchecked []callSite
	for i, line := range src.Lines {
		if err := ctx.Err(); err != nil {
			return unchecked, err
		}
		if !regexLowLevelCall.MatchString(line) {
			continue
		}
		if d.isReturnChecked(src.Lines, i) {
			continue
		}
		unchecked = append(unchecked, callSite{line: i + 1, code: strings.TrimSpace(line)})
	}
	return unchecked, nil
}

func (d *Detector) isReturnChecked(lines []string, callLine int) bool {
	if core.AnyMatch(returnCheckPatterns, lines[callLine]) {
		return true
	}
	for _, next := range core.After(lines, callLine, returnCheckWindow) {
		if core.AnyMatch(returnCheckPatterns, next) {
			return true
		}
	}
	return false
}

func (d *Detector) countTransfers(src *core.Source) int {
	count := 0
	for _, line := range src.Lines {
		if regexTransfer.MatchString(line) {
			count++
		}
	}
	return count
}

// findUnsafeDelegatecalls returns delegatecall sites whose surrounding
// context names a user-controlled target with no trusted marker.
func (d *Detector) findUnsafeDelegatecalls(ctx context.Context, src *core.Source) ([]callSite, error) {
	var unsafe []callSite
	for i, line := range src.Lines {
		if err := ctx.Err(); err != nil {
			return unsafe, err
		}
		if !regexDelegatecall.MatchString(line) {
			continue
		}
		window := core.Surrounding(src.Lines, i, targetContextWindow, 0)
		if core.AnyMatch(userControlledPatterns, window) && !core.AnyMatch(trustedTargetPatterns, window) {
			unsafe = append(unsafe, callSite{line: i + 1, code: strings.TrimSpace(line)})
		}
	}
	return unsafe, nil
}

// generateCheckedCall wraps a bare call with a success check. Calls that
// already bind a bool return are left alone.
func generateCheckedCall(code string) string {
	if regexBoolReturn.MatchString(code) {
		return code
	}
	re := regexp.MustCompile(`(\w+)\.call\(`)
	fixed := re.ReplaceAllString(code, "(bool success, ) = $1.call(")
	return fixed + "\nrequire(success, \"External call failed\");"
}

// generateWhitelistedDelegatecall prefixes the call with the whitelist
// scaffolding the recommendation describes.
func generateWhitelistedDelegatecall(code string) string {
	return "// Add to contract:\n" +
		"mapping(address => bool) public trustedImplementations;\n\n" +
		"// In constructor or admin function:\n" +
		"// trustedImplementations[yourLogicContract] = true;\n\n" +
		"require(trustedImplementations[target], \"Untrusted implementation\");\n" +
		code
}
