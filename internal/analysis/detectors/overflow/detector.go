package overflow

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/analysis/core"
)

// DetectorKey is the stable registry key for this detector.
const DetectorKey = "integer-overflow"

// maxUncheckedLines bounds block extraction for unchecked blocks.
const maxUncheckedLines = 20

// maxArithmeticFindings caps how many raw-arithmetic findings one run
// reports; beyond that they repeat the same advice.
const maxArithmeticFindings = 3

var (
	regexPragma     = regexp.MustCompile(`pragma solidity\s+[\^~><=]*([0-9.]+)`)
	regexSafeMath   = regexp.MustCompile(`using SafeMath|SafeMath\.(add|sub|mul|div)`)
	regexUnchecked  = regexp.MustCompile(`\bunchecked\s*\{`)
	regexArithmetic = regexp.MustCompile(`[+\-*/]\s*=|=\s*\w+\s*[+\-*/]`)
	regexDivMul     = regexp.MustCompile(`\w+\s*/\s*\w+\s*\*\s*\w+`)

	// Safe unchecked bodies: loop counters and explicit increments.
	uncheckedSafePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\+\+`),
		regexp.MustCompile(`--`),
		regexp.MustCompile(`i\s*\+\s*1`),
	}
	// Unsafe unchecked bodies: value-bearing or user-influenced state.
	uncheckedUnsafePatterns = []*regexp.Regexp{
		regexp.MustCompile(`msg\.value`),
		regexp.MustCompile(`amount`),
		regexp.MustCompile(`balance`),
		regexp.MustCompile(`\*`),
		regexp.MustCompile(`user`),
		regexp.MustCompile(`input`),
	}
)

type codeAt struct {
	line int // 1-based
	code string
}

type Detector struct {
	*core.BaseDetector
	logger *zap.Logger
}

// NewDetector creates the integer-overflow detector.
func NewDetector(logger *zap.Logger) *Detector {
	base := core.NewBaseDetector(
		DetectorKey,
		"Integer Overflow Detector",
		"Detects overflow-prone arithmetic on pre-0.8 compilers, risky unchecked blocks, and precision loss from division before multiplication.",
		logger,
	)

	return &Detector{
		BaseDetector: base,
		logger:       base.Logger,
	}
}

// Detect evaluates the declared compiler version against the arithmetic
// the contract performs.
func (d *Detector) Detect(ctx context.Context, src *core.Source) (schemas.DetectorResult, error) {
	if src == nil {
		src = core.NewSource("")
	}
	b := core.NewResultBuilder(DetectorKey, d.logger)

	version := extractSolidityVersion(src.Raw)
	safeVersion := isSafeVersion(version)
	b.SetCheck("solidity_version_safe", safeVersion)

	usesSafeMath := regexSafeMath.MatchString(src.Raw)
	b.SetCheck("uses_safe_math", usesSafeMath)

	uncheckedBlocks, err := d.findUncheckedBlocks(ctx, src)
	if err != nil {
		return b.Result(), err
	}
	b.SetCheck("appropriate_unchecked_usage", len(uncheckedBlocks) == 0 || safeVersion)

	arithmeticOps, err := d.findArithmeticOperations(ctx, src)
	if err != nil {
		return b.Result(), err
	}
	b.SetCheck("arithmetic_operations_safe", safeVersion || usesSafeMath)

	precisionLoss := d.findPrecisionLoss(src)
	b.SetCheck("no_precision_loss", len(precisionLoss) == 0)

	if !safeVersion && !usesSafeMath && len(arithmeticOps) > 0 {
		limit := len(arithmeticOps)
		if limit > maxArithmeticFindings {
			limit = maxArithmeticFindings
		}
		for _, op := range arithmeticOps[:limit] {
			b.AddFinding(schemas.Finding{
				Severity: schemas.SeverityHigh,
				Title:    "Integer Overflow/Underflow Risk",
				Description: fmt.Sprintf(
					"Arithmetic operation at line %d is vulnerable to integer overflow/underflow. "+
						"Contract uses Solidity %s without SafeMath protection.",
					op.line, version,
				),
				Location: fmt.Sprintf("Line %d", op.line),
				Line:     op.line,
				Recommendation: "1. Upgrade to Solidity 0.8.0+ for built-in protection\n" +
					"2. Or use SafeMath library for all arithmetic operations",
			})
		}

		b.AddFix(schemas.FixSuggestion{
			Issue:       "Missing overflow protection",
			Original:    fmt.Sprintf("pragma solidity ^%s;", version),
			Fixed:       "pragma solidity ^0.8.20;",
			Explanation: "Solidity 0.8.0+ has built-in overflow/underflow protection",
		})
		b.AddFix(schemas.FixSuggestion{
			Issue:       "Add SafeMath library",
			Line:        arithmeticOps[0].line,
			Original:    arithmeticOps[0].code,
			Fixed:       rewriteWithSafeMath(arithmeticOps[0].code),
			Explanation: "Use SafeMath library for safe arithmetic operations",
		})
	}

	if safeVersion {
		for _, block := range uncheckedBlocks {
			if isSafeUncheckedUsage(block.code) {
				continue
			}
			b.AddFinding(schemas.Finding{
				Severity: schemas.SeverityMedium,
				Title:    "Overflow Risk in Unchecked Block",
				Description: fmt.Sprintf(
					"Unchecked block at line %d may contain operations that could overflow "+
						"without protection. Verify this is intentional.",
					block.line,
				),
				Location:       fmt.Sprintf("Line %d", block.line),
				Line:           block.line,
				Recommendation: "Review unchecked blocks for overflow safety",
			})
		}
	}

	for _, loss := range precisionLoss {
		b.AddFinding(schemas.Finding{
			Severity: schemas.SeverityMedium,
			Title:    "Precision Loss: Division Before Multiplication",
			Description: fmt.Sprintf(
				"Operation at line %d performs division before multiplication, "+
					"which can lead to precision loss in integer arithmetic.",
				loss.line,
			),
			Location:       fmt.Sprintf("Line %d", loss.line),
			Line:           loss.line,
			Recommendation: "Reorder operations: multiply first, then divide",
		})
	}

	return b.Result(), nil
}

// extractSolidityVersion pulls the version out of the pragma directive,
// or "unknown" when the contract has none.
func extractSolidityVersion(source string) string {
	if m := regexPragma.FindStringSubmatch(source); m != nil {
		return m[1]
	}
	return "unknown"
}

// isSafeVersion reports whether the declared compiler version carries
// built-in overflow checks (0.8.0 and later).
func isSafeVersion(version string) bool {
	if version == "unknown" {
		return false
	}
	parts := strings.Split(version, ".")
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}
	minor := 0
	if len(parts) > 1 {
		if minor, err = strconv.Atoi(parts[1]); err != nil {
			return false
		}
	}
	return major > 0 || (major == 0 && minor >= 8)
}

func (d *Detector) findUncheckedBlocks(ctx context.Context, src *core.Source) ([]codeAt, error) {
	var blocks []codeAt
	for i, line := range src.Lines {
		if err := ctx.Err(); err != nil {
			return blocks, err
		}
		if regexUnchecked.MatchString(line) {
			blocks = append(blocks, codeAt{
				line: i + 1,
				code: core.ExtractBlock(src.Lines, i, maxUncheckedLines),
			})
		}
	}
	return blocks, nil
}

// findArithmeticOperations collects lines performing raw arithmetic,
// skipping comments, strings, and SafeMath call sites.
func (d *Detector) findArithmeticOperations(ctx context.Context, src *core.Source) ([]codeAt, error) {
	var ops []codeAt
	for i, line := range src.Lines {
		if err := ctx.Err(); err != nil {
			return ops, err
		}
		if strings.Contains(line, "//") || strings.Contains(line, "/*") || strings.Contains(line, `"`) {
			continue
		}
		if !regexArithmetic.MatchString(line) || strings.Contains(line, "SafeMath") {
			continue
		}
		ops = append(ops, codeAt{line: i + 1, code: strings.TrimSpace(line)})
	}
	return ops, nil
}

func (d *Detector) findPrecisionLoss(src *core.Source) []codeAt {
	var issues []codeAt
	for i, line := range src.Lines {
		if regexDivMul.MatchString(line) {
			issues = append(issues, codeAt{line: i + 1, code: strings.TrimSpace(line)})
		}
	}
	return issues
}

// isSafeUncheckedUsage accepts unchecked bodies that look like loop
// counters and rejects anything touching value-bearing identifiers.
func isSafeUncheckedUsage(code string) bool {
	lowered := strings.ToLower(code)
	hasSafe := core.AnyMatch(uncheckedSafePatterns, lowered)
	hasUnsafe := core.AnyMatch(uncheckedUnsafePatterns, lowered)
	return hasSafe && !hasUnsafe
}

// rewriteWithSafeMath converts raw operators in the snippet to SafeMath
// calls and prepends the using declaration.
func rewriteWithSafeMath(code string) string {
	fixed := "using SafeMath for uint256;\n\n" + code
	for _, sub := range []struct {
		re          *regexp.Regexp
		replacement string
	}{
		{regexp.MustCompile(`(\w+)\s*\+\s*(\w+)`), "$1.add($2)"},
		{regexp.MustCompile(`(\w+)\s*-\s*(\w+)`), "$1.sub($2)"},
		{regexp.MustCompile(`(\w+)\s*\*\s*(\w+)`), "$1.mul($2)"},
		{regexp.MustCompile(`(\w+)\s*/\s*(\w+)`), "$1.div($2)"},
	} {
		fixed = sub.re.ReplaceAllString(fixed, sub.replacement)
	}
	return fixed
}
