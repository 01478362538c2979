package schemas

import (
	"sort"
	"strings"
)

// -- Finding Schemas --

// Severity represents the risk level of a finding, ranging from critical to
// informational. The values are lowercase to align with database ENUMs, and
// the numeric weights drive every scoring formula in the engine.
type Severity string

// Constants defining the standard severity levels for findings.
const (
	SeverityCritical Severity = "critical" // Represents a critical vulnerability.
	SeverityHigh     Severity = "high"     // Represents a high-severity vulnerability.
	SeverityMedium   Severity = "medium"   // Represents a medium-severity vulnerability.
	SeverityLow      Severity = "low"      // Represents a low-severity vulnerability.
	SeverityInfo     Severity = "info"     // Represents an informational finding.
)

// severityWeights maps each level to its scoring weight.
var severityWeights = map[Severity]int{
	SeverityCritical: 10,
	SeverityHigh:     7,
	SeverityMedium:   4,
	SeverityLow:      2,
	SeverityInfo:     1,
}

// Weight returns the numeric scoring weight for the severity. Unknown
// severities weigh zero so a malformed value can never inflate a score.
func (s Severity) Weight() int {
	return severityWeights[s]
}

// Valid reports whether s is one of the defined severity levels.
func (s Severity) Valid() bool {
	_, ok := severityWeights[s]
	return ok
}

// AllSeverities lists the defined levels from most to least severe.
// Summaries and renderers iterate this slice so their output order is stable.
func AllSeverities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}
}

// Category is the vulnerability class a finding belongs to. It is always
// derived from the finding's title, never assigned freehand.
type Category string

// Constants for the recognized vulnerability classes.
const (
	CategoryReentrancy          Category = "reentrancy"
	CategoryAccessControl       Category = "access-control"
	CategoryIntegerOverflow     Category = "integer-overflow"
	CategoryExternalCall        Category = "external-call"
	CategoryGasOptimization     Category = "gas-optimization"
	CategoryFrontRunning        Category = "front-running"
	CategoryTimestampDependence Category = "timestamp-dependence"
	CategoryDenialOfService     Category = "denial-of-service"
	CategoryOther               Category = "other"
)

// AllCategories lists the recognized classes in presentation order, ending
// with the catch-all.
func AllCategories() []Category {
	return []Category{
		CategoryReentrancy,
		CategoryAccessControl,
		CategoryIntegerOverflow,
		CategoryExternalCall,
		CategoryFrontRunning,
		CategoryTimestampDependence,
		CategoryDenialOfService,
		CategoryGasOptimization,
		CategoryOther,
	}
}

// titleKeywords is the classification table for CategorizeTitle. Order
// matters: the first matching keyword wins, and matching is plain substring
// search over the lowercased title.
var titleKeywords = []struct {
	keyword  string
	category Category
}{
	{"reentranc", CategoryReentrancy},
	{"access", CategoryAccessControl},
	{"authorization", CategoryAccessControl},
	{"overflow", CategoryIntegerOverflow},
	{"underflow", CategoryIntegerOverflow},
	{"front-running", CategoryFrontRunning},
	{"frontrun", CategoryFrontRunning},
	{"timestamp", CategoryTimestampDependence},
	{"denial of service", CategoryDenialOfService},
	{"call", CategoryExternalCall},
	{"gas", CategoryGasOptimization},
}

// CategorizeTitle derives the category for a finding title. Unmatched
// titles fall through to CategoryOther.
func CategorizeTitle(title string) Category {
	lower := strings.ToLower(title)
	for _, entry := range titleKeywords {
		if strings.Contains(lower, entry.keyword) {
			return entry.category
		}
	}
	return CategoryOther
}

// FixSuggestion pairs a problematic snippet with a corrected version.
type FixSuggestion struct {
	Issue       string `json:"issue"`
	Line        int    `json:"line,omitempty"`
	Original    string `json:"original,omitempty"`
	Fixed       string `json:"fixed"`
	Explanation string `json:"explanation,omitempty"`
}

// Finding encapsulates a single issue identified in contract source. A
// finding is created once by a detector and never mutated afterwards.
type Finding struct {
	ID       string `json:"id"`       // Unique identifier for the finding.
	Detector string `json:"detector"` // Registry key of the detector that reported it.

	Severity Severity `json:"severity"` // The severity level of the finding.
	Category Category `json:"category"` // Derived from Title via CategorizeTitle.

	Title       string `json:"title"`       // Short name of the issue; drives categorization.
	Description string `json:"description"` // A detailed description of the issue.

	// Location is a human-readable line reference (e.g. "Line 42"); Line
	// carries the same information numerically for tooling.
	Location string `json:"location"`
	Line     int    `json:"line,omitempty"`

	Recommendation string         `json:"recommendation"` // Suggested steps for remediation.
	Fix            *FixSuggestion `json:"fix,omitempty"`  // Optional concrete code fix.
}

// DetectorResult is the structured output of one detector run. The check
// name set for a given detector is fixed and identical across all runs.
type DetectorResult struct {
	Detector string          `json:"detector"`
	Checks   map[string]bool `json:"checks"`
	Findings []Finding       `json:"findings"`
	Fixes    []FixSuggestion `json:"fixes"`
}

// EmptyDetectorResult returns the well-formed degraded result substituted
// for a failed detector: present under its key, with no checks or findings.
func EmptyDetectorResult(detector string) DetectorResult {
	return DetectorResult{
		Detector: detector,
		Checks:   map[string]bool{},
		Findings: []Finding{},
		Fixes:    []FixSuggestion{},
	}
}

// Summary aggregates check and finding tallies across all detectors.
type Summary struct {
	TotalChecks    int              `json:"total_checks"`
	PassedChecks   int              `json:"passed_checks"`
	SeverityCounts map[Severity]int `json:"severity_counts"`
}

// AggregatedReport is the coordinator's output: one entry per registered
// detector, always, plus the combined summary. Degraded is set when one or
// more detectors failed and had an empty result substituted under their key.
type AggregatedReport struct {
	Results         map[string]DetectorResult `json:"results"`
	Summary         Summary                   `json:"summary"`
	Degraded        bool                      `json:"degraded,omitempty"`
	FailedDetectors []string                  `json:"failed_detectors,omitempty"`
}

// Findings flattens every detector's findings into one slice, ordered by
// sorted detector key so the result is stable across runs.
func (r *AggregatedReport) Findings() []Finding {
	keys := make([]string, 0, len(r.Results))
	for k := range r.Results {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Finding
	for _, k := range keys {
		out = append(out, r.Results[k].Findings...)
	}
	return out
}
