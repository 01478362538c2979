package accessctl

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
const DetectorKey = "access-control"

// modifierWindow is how many lines from a privileged function declaration
// are scanned for an authorization modifier. Declarations often wrap, so
// the modifier may sit a line or two below the function keyword.
const modifierWindow = 3

// maxFunctionLines bounds block extraction for unprotected functions.
const maxFunctionLines = 50

var (
	regexOwnable       = regexp.MustCompile(`Ownable|onlyOwner`)
	regexAccessControl = regexp.MustCompile(`AccessControl|hasRole`)
	regexAuthModifier  = regexp.MustCompile(`onlyOwner|onlyRole|onlyAdmin`)
	regexTxOrigin      = regexp.MustCompile(`tx\.origin`)
	regexModifierDef   = regexp.MustCompile(`modifier\s+(onlyOwner|onlyAdmin|onlyRole)`)
	regexOZImport      = regexp.MustCompile(`import.*Ownable|import.*AccessControl`)
)

// privilegedFunction describes one entry in the privileged-name table:
// functions matching the name are expected to carry an authorization
// modifier, and missing one is reported at the listed severity.
type privilegedFunction struct {
	name     string
	action   string
	severity schemas.Severity
	pattern  *regexp.Regexp
}

func privileged(name, action string, severity schemas.Severity) privilegedFunction {
	return privilegedFunction{
		name:     name,
		action:   action,
		severity: severity,
		pattern:  regexp.MustCompile(`(?i)function\s+` + name),
	}
}

// privilegedFunctions is the fixed table of function names that must be
// access-restricted.
var privilegedFunctions = []privilegedFunction{
	privileged("withdraw", "withdraw funds", schemas.SeverityCritical),
	privileged("transferOwnership", "transfer ownership", schemas.SeverityCritical),
	privileged("pause", "pause contract", schemas.SeverityCritical),
	privileged("unpause", "unpause contract", schemas.SeverityCritical),
	privileged("setFee", "set fees", schemas.SeverityMedium),
	privileged("mint", "mint tokens", schemas.SeverityCritical),
	privileged("burn", "burn tokens", schemas.SeverityMedium),
	privileged("setAdmin", "change admin", schemas.SeverityCritical),
	privileged("emergencyWithdraw", "emergency withdraw", schemas.SeverityCritical),
}

// unprotectedFunction is one privileged function found without an
// authorization modifier in range.
type unprotectedFunction struct {
	name     string
	action   string
	severity schemas.Severity
	line     int // 1-based
	code     string
}

type Detector struct {
	*core.BaseDetector
	logger *zap.Logger
}

// NewDetector creates the access-control detector.
func NewDetector(logger *zap.Logger) *Detector {
	base := core.NewBaseDetector(
		DetectorKey,
		"Access Control Detector",
		"Detects missing authorization on privileged functions, weak ownership mechanisms, and tx.origin authentication.",
		logger,
	)

	return &Detector{
		BaseDetector: base,
		logger:       base.Logger,
	}
}

// Detect scans for privileged functions without authorization modifiers
// and for origin-based identity checks.
func (d *Detector) Detect(ctx context.Context, src *core.Source) (schemas.DetectorResult, error) {
	if src == nil {
		src = core.NewSource("")
	}
	b := core.NewResultBuilder(DetectorKey, d.logger)

	b.SetCheck("has_ownership_mechanism", regexOwnable.MatchString(src.Raw))
	b.SetCheck("has_role_based_access", regexAccessControl.MatchString(src.Raw))

	unprotected, err := d.findUnprotectedFunctions(ctx, src)
	if err != nil {
		return b.Result(), err
	}
	b.SetCheck("all_privileged_protected", len(unprotected) == 0)

	b.SetCheck("proper_modifier_usage",
		regexModifierDef.MatchString(src.Raw) || regexOZImport.MatchString(src.Raw))

	usesTxOrigin := regexTxOrigin.MatchString(src.Raw)
	b.SetCheck("no_tx_origin", !usesTxOrigin)

	for _, fn := range unprotected {
		b.AddFinding(schemas.Finding{
			Severity: fn.severity,
			Title:    fmt.Sprintf("Missing Access Control: %s", fn.name),
			Description: fmt.Sprintf(
				"Function '%s' can %s but lacks access control modifiers. Any user can call this function.",
				fn.name, fn.action,
			),
			Location:       fmt.Sprintf("Line %d", fn.line),
			Line:           fn.line,
			Recommendation: "Add onlyOwner or role-based access modifier",
			Fix: &schemas.FixSuggestion{
				Issue:       fmt.Sprintf("Missing access control on %s", fn.name),
				Line:        fn.line,
				Original:    fn.code,
				Fixed:       d.addAccessModifier(fn.code, fn.name),
				Explanation: "Added onlyOwner modifier to restrict access to contract owner",
			},
		})
	}

	if usesTxOrigin {
		b.AddFinding(schemas.Finding{
			Severity: schemas.SeverityHigh,
			Title:    "tx.origin Used for Authorization",
			Description: "Contract uses tx.origin for authorization, which is vulnerable " +
				"to phishing attacks. Use msg.sender instead.",
			Location:       "Multiple locations",
			Recommendation: "Replace tx.origin with msg.sender",
		})
	}

	return b.Result(), nil
}

// findUnprotectedFunctions matches every line against the privileged-name
// table and checks the modifier window below each hit.
func (d *Detector) findUnprotectedFunctions(ctx context.Context, src *core.Source) ([]unprotectedFunction, error) {
	var unprotected []unprotectedFunction

	for i, line := range src.Lines {
		if err := ctx.Err(); err != nil {
			return unprotected, err
		}
		for _, fn := range privilegedFunctions {
			if !fn.pattern.MatchString(line) {
				continue
			}
			if d.hasModifierInRange(src.Lines, i) {
				continue
			}
			unprotected = append(unprotected, unprotectedFunction{
				name:     fn.name,
				action:   fn.action,
				severity: fn.severity,
				line:     i + 1,
				code:     core.ExtractBlock(src.Lines, i, maxFunctionLines),
			})
		}
	}

	return unprotected, nil
}

// hasModifierInRange reports whether an authorization modifier appears on
// the declaration line or within the modifier window below it.
func (d *Detector) hasModifierInRange(lines []string, declLine int) bool {
	if regexAuthModifier.MatchString(lines[declLine]) {
		return true
	}
	for _, next := range core.After(lines, declLine, modifierWindow-1) {
		if regexAuthModifier.MatchString(next) {
			return true
		}
	}
	return false
}

// addAccessModifier injects onlyOwner after the visibility specifier and
// prepends the Ownable import when the snippet has none.
func (d *Detector) addAccessModifier(code, functionName string) string {
	declRe := regexp.MustCompile(`(function\s+` + regexp.QuoteMeta(functionName) + `\s*\([^)]*\)\s+(?:public|external))`)
	fixed := declRe.ReplaceAllString(code, "$1 onlyOwner")

	if !strings.Contains(fixed, "import") {
		fixed = "import \"@openzeppelin/contracts/access/Ownable.sol\";\n\n" + fixed
	}
	return fixed
}
