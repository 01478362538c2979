package gasopt

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/analysis/core"
)

// DetectorKey is the stable registry key for this detector.
const DetectorKey = "gas-optimization"

// maxFunctionBodyLines bounds block extraction when counting identifier
// reads inside one function.
const maxFunctionBodyLines = 100

// redundantReadThreshold is how many reads of one identifier inside a
// function body trigger a caching suggestion.
const redundantReadThreshold = 4

// maxRedundantFindings caps redundant-read findings per run.
const maxRedundantFindings = 3

// storageSlotBytes is the EVM storage slot width.
const storageSlotBytes = 32

var (
	regexExternalFunc  = regexp.MustCompile(`function\s+\w+\s*\([^)]*\)\s*(external|public)`)
	regexMemoryParam   = regexp.MustCompile(`(\w+\[\]\s+memory|\w+\s+memory)\s+\w+`)
	regexContractDecl  = regexp.MustCompile(`contract\s+\w+`)
	regexStateVarStart = regexp.MustCompile(`^\s*(uint|int|bool|address|bytes)`)
	regexStateVar      = regexp.MustCompile(`(uint\d*|int\d*|bool|address|bytes\d*)\s+(public\s+|private\s+|internal\s+)?(\w+)`)
	regexLengthInLoop  = regexp.MustCompile(`for\s*\([^;]*;\s*\w+\s*<\s*\w+\.length`)
	regexPostIncrement = regexp.MustCompile(`for\s*\([^;]*;\s*[^;]*;\s*i\+\+`)
	regexArrayLength   = regexp.MustCompile(`(\w+)\.length`)
	regexIdentifier    = regexp.MustCompile(`\b([a-z][a-zA-Z0-9_]*)\b`)
	regexLiteralAssign = regexp.MustCompile(`(uint\d*|int\d*|address|bytes\d*)\s+(public\s+|private\s+)?(\w+)\s*=`)
	regexLiteralValue  = regexp.MustCompile(`=\s*[0-9x"']+`)
	regexTypeBits      = regexp.MustCompile(`\d+`)
)

// identifierSkipList holds language keywords excluded from read counting.
var identifierSkipList = map[string]bool{
	"memory":   true,
	"storage":  true,
	"calldata": true,
	"return":   true,
	"if":       true,
	"for":      true,
	"while":    true,
	"function": true,
}

type stateVariable struct {
	line    int // 1-based
	varType string
	name    string
	size    int
}

type memoryParamIssue struct {
	line int // 1-based
	code string
}

type packingReport struct {
	optimal    bool
	original   string
	suggestion string
}

type loopIssue struct {
	line           int // 1-based
	title          string
	description    string
	recommendation string
	fix            *schemas.FixSuggestion
}

type redundantRead struct {
	line     int // 1-based function declaration line
	variable string
	count    int
}

type Detector struct {
	*core.BaseDetector
	logger *zap.Logger
}

// NewDetector creates the gas-optimization detector.
func NewDetector(logger *zap.Logger) *Detector {
	base := core.NewBaseDetector(
		DetectorKey,
		"Gas Optimization Detector",
		"Detects avoidable gas costs: memory copies of read-only parameters, loose storage packing, uncached length reads, and missing constant markers.",
		logger,
	)

	return &Detector{
		BaseDetector: base,
		logger:       base.Logger,
	}
}

// Detect scans for the standard catalogue of gas inefficiencies.
func (d *Detector) Detect(ctx context.Context, src *core.Source) (schemas.DetectorResult, error) {
	if src == nil {
		src = core.NewSource("")
	}
	b := core.NewResultBuilder(DetectorKey, d.logger)

	memoryIssues, err := d.findMemoryParams(ctx, src)
	if err != nil {
		return b.Result(), err
	}
	b.SetCheck("optimal_data_location", len(memoryIssues) == 0)

	packing := d.analyzeStoragePacking(src)
	b.SetCheck("efficient_storage_packing", packing.optimal)

	loopIssues, err := d.findLoopInefficiencies(ctx, src)
	if err != nil {
		return b.Result(), err
	}
	b.SetCheck("optimized_loops", len(loopIssues) == 0)

	redundantReads, err := d.findRedundantReads(ctx, src)
	if err != nil {
		return b.Result(), err
	}
	b.SetCheck("cached_storage_reads", len(redundantReads) == 0)

	constants := d.findConstantCandidates(src)
	b.SetCheck("uses_constants", len(constants) == 0)

	for _, issue := range memoryIssues {
		b.AddFinding(schemas.Finding{
			Severity: schemas.SeverityLow,
			Title:    "Gas: Read-Only Parameter Copied to Memory",
			Description: fmt.Sprintf(
				"Parameter at line %d uses 'memory' but could use 'calldata' for read-only "+
					"data. Using calldata saves ~200 gas per parameter.",
				issue.line,
			),
			Location:       fmt.Sprintf("Line %d", issue.line),
			Line:           issue.line,
			Recommendation: "Change parameter location from memory to calldata",
			Fix: &schemas.FixSuggestion{
				Issue:       "Memory instead of calldata",
				Line:        issue.line,
				Original:    issue.code,
				Fixed:       strings.ReplaceAll(issue.code, " memory ", " calldata "),
				Explanation: "Calldata is cheaper than memory for external function parameters",
			},
		})
	}

	if !packing.optimal {
		b.AddFinding(schemas.Finding{
			Severity: schemas.SeverityLow,
			Title:    "Gas: Suboptimal Storage Packing",
			Description: "State variables could be reordered to pack into fewer storage slots. " +
				"Each storage slot costs ~20,000 gas to initialize. Better packing can save " +
				"significant gas on deployment and state modifications.",
			Location:       "Contract storage layout",
			Recommendation: "Reorder state variables: smaller types together, then larger types",
			Fix: &schemas.FixSuggestion{
				Issue:       "Inefficient storage packing",
				Original:    packing.original,
				Fixed:       packing.suggestion,
				Explanation: "Reordered variables to fit in fewer 32-byte storage slots",
			},
		})
	}

	for _, issue := range loopIssues {
		b.AddFinding(schemas.Finding{
			Severity:       schemas.SeverityLow,
			Title:          issue.title,
			Description:    issue.description,
			Location:       fmt.Sprintf("Line %d", issue.line),
			Line:           issue.line,
			Recommendation: issue.recommendation,
			Fix:            issue.fix,
		})
	}

	limit := len(redundantReads)
	if limit > maxRedundantFindings {
		limit = maxRedundantFindings
	}
	for _, rr := range redundantReads[:limit] {
		b.AddFinding(schemas.Finding{
			Severity: schemas.SeverityLow,
			Title:    "Gas: Redundant Storage Reads",
			Description: fmt.Sprintf(
				"Variable '%s' read %d times in function. Each SLOAD costs 100 gas. "+
					"Cache in memory variable to save gas.",
				rr.variable, rr.count,
			),
			Location:       fmt.Sprintf("Line %d", rr.line),
			Line:           rr.line,
			Recommendation: fmt.Sprintf("Cache %s in memory at start of function", rr.variable),
		})
	}

	for _, c := range constants {
		b.AddFinding(schemas.Finding{
			Severity: schemas.SeverityLow,
			Title:    "Gas: Variable Could Be Constant",
			Description: fmt.Sprintf(
				"Variable '%s' is never modified and could be declared as constant or "+
					"immutable, saving gas on deployment and reads.",
				c.name,
			),
			Location:       fmt.Sprintf("Line %d", c.line),
			Line:           c.line,
			Recommendation: fmt.Sprintf("Declare %s as constant or immutable", c.name),
		})
	}

	return b.Result(), nil
}

// findMemoryParams flags externally visible functions whose parameters
// are copied to memory instead of read from calldata.
func (d *Detector) findMemoryParams(ctx context.Context, src *core.Source) ([]memoryParamIssue, error) {
	var issues []memoryParamIssue
	for i, line := range src.Lines {
		if err := ctx.Err(); err != nil {
			return issues, err
		}
		if !regexExternalFunc.MatchString(line) || !regexMemoryParam.MatchString(line) {
			continue
		}
		issues = append(issues, memoryParamIssue{line: i + 1, code: strings.TrimSpace(line)})
	}
	return issues, nil
}

// analyzeStoragePacking extracts declared state variables and compares
// the slot usage of the declared order against a size-sorted order.
func (d *Detector) analyzeStoragePacking(src *core.Source) packingReport {
	var vars []stateVariable
	inContract := false

	for i, line := range src.Lines {
		if regexContractDecl.MatchString(line) {
			inContract = true
			continue
		}
		if !inContract || !regexStateVarStart.MatchString(line) {
			continue
		}
		m := regexStateVar.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		vars = append(vars, stateVariable{
			line:    i + 1,
			varType: m[1],
			name:    m[3],
			size:    typeSize(m[1]),
		})
	}

	if len(vars) < 2 || packedOrderOptimal(vars) {
		return packingReport{optimal: true}
	}

	sorted := append([]stateVariable{}, vars...)
	sort.Slice(sorted, func(a, b int) bool {
		if sorted[a].size != sorted[b].size {
			return sorted[a].size < sorted[b].size
		}
		return sorted[a].name < sorted[b].name
	})

	return packingReport{
		optimal:    false,
		original:   renderVars(vars),
		suggestion: renderVars(sorted),
	}
}

// packedOrderOptimal compares greedy slot filling of the declared order
// against the size-sorted order.
func packedOrderOptimal(vars []stateVariable) bool {
	sizes := make([]int, len(vars))
	for i, v := range vars {
		sizes[i] = v.size
	}

	fill := func(order []int) int {
		slot := 0
		for _, size := range order {
			if slot+size > storageSlotBytes {
				slot = size
			} else {
				slot += size
			}
		}
		return slot
	}

	declared := fill(sizes)
	sorted := append([]int{}, sizes...)
	sort.Ints(sorted)
	return declared <= fill(sorted)
}

func renderVars(vars []stateVariable) string {
	limit := len(vars)
	if limit > 5 {
		limit = 5
	}
	lines := make([]string, 0, limit)
	for _, v := range vars[:limit] {
		lines = append(lines, fmt.Sprintf("    %s %s;", v.varType, v.name))
	}
	return strings.Join(lines, "\n")
}

// typeSize returns the storage footprint of a declared type in bytes.
func typeSize(varType string) int {
	switch {
	case varType == "bool":
		return 1
	case strings.HasPrefix(varType, "uint"), strings.HasPrefix(varType, "int"):
		if m := regexTypeBits.FindString(varType); m != "" {
			bits, _ := strconv.Atoi(m)
			return bits / 8
		}
		return 32
	case varType == "address":
		return 20
	case strings.HasPrefix(varType, "bytes"):
		if m := regexTypeBits.FindString(varType); m != "" {
			n, _ := strconv.Atoi(m)
			return n
		}
		return 32
	default:
		return 32
	}
}

func (d *Detector) findLoopInefficiencies(ctx context.Context, src *core.Source) ([]loopIssue, error) {
	var issues []loopIssue
	for i, line := range src.Lines {
		if err := ctx.Err(); err != nil {
			return issues, err
		}

		if regexLengthInLoop.MatchString(line) {
			issues = append(issues, loopIssue{
				line:  i + 1,
				title: "Gas: Array Length Read Every Loop Iteration",
				description: "Loop reads array.length on every iteration (SLOAD = 100 gas each). " +
					"Cache length in local variable to save gas.",
				recommendation: "uint256 len = array.length; for (uint256 i; i < len; ++i)",
				fix: &schemas.FixSuggestion{
					Issue:       "Array length in loop",
					Line:        i + 1,
					Original:    strings.TrimSpace(line),
					Fixed:       cachedLengthLoop(line),
					Explanation: "Cache array length to avoid repeated SLOAD operations",
				},
			})
		}

		if regexPostIncrement.MatchString(line) {
			issues = append(issues, loopIssue{
				line:           i + 1,
				title:          "Gas: Post-Increment in Loop",
				description:    "Using ++i saves ~5 gas per iteration compared to i++",
				recommendation: "Change i++ to ++i in loop increment",
				fix: &schemas.FixSuggestion{
					Issue:       "Post-increment in loop",
					Line:        i + 1,
					Original:    strings.TrimSpace(line),
					Fixed:       strings.ReplaceAll(strings.TrimSpace(line), "i++", "++i"),
					Explanation: "Pre-increment (++i) is more gas efficient than post-increment (i++)",
				},
			})
		}
	}
	return issues, nil
}

// cachedLengthLoop hoists the first array.length read above the loop.
func cachedLengthLoop(line string) string {
	m := regexArrayLength.FindStringSubmatch(line)
	if m == nil {
		return strings.TrimSpace(line)
	}
	arrayName := m[1]
	return fmt.Sprintf("uint256 length = %s.length;\n        %s",
		arrayName,
		strings.ReplaceAll(strings.TrimSpace(line), arrayName+".length", "length"))
}

// findRedundantReads counts identifier occurrences per function body and
// reports those at or over the threshold, in first-occurrence order so
// repeated runs agree.
func (d *Detector) findRedundantReads(ctx context.Context, src *core.Source) ([]redundantRead, error) {
	var redundant []redundantRead

	for i, line := range src.Lines {
		if err := ctx.Err(); err != nil {
			return redundant, err
		}
		if !strings.Contains(line, "function") {
			continue
		}

		body := core.ExtractBlock(src.Lines, i, maxFunctionBodyLines)
		counts := map[string]int{}
		var order []string

		for _, bodyLine := range strings.Split(body, "\n") {
			for _, m := range regexIdentifier.FindAllStringSubmatch(bodyLine, -1) {
				ident := m[1]
				if identifierSkipList[ident] {
					continue
				}
				if counts[ident] == 0 {
					order = append(order, ident)
				}
				counts[ident]++
			}
		}

		for _, ident := range order {
			if counts[ident] >= redundantReadThreshold {
				redundant = append(redundant, redundantRead{
					line:     i + 1,
					variable: ident,
					count:    counts[ident],
				})
			}
		}
	}

	return redundant, nil
}

// findConstantCandidates flags variables assigned a literal but not
// marked constant or immutable.
func (d *Detector) findConstantCandidates(src *core.Source) []stateVariable {
	var candidates []stateVariable
	for i, line := range src.Lines {
		m := regexLiteralAssign.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if strings.Contains(line, "constant") || strings.Contains(line, "immutable") {
			continue
		}
		if !regexLiteralValue.MatchString(line) {
			continue
		}
		candidates = append(candidates, stateVariable{
			line:    i + 1,
			varType: m[1],
			name:    m[3],
		})
	}
	return candidates
}
