package schemas

// -- Reasoning Schemas --

// RiskLevel grades a single exploit-probability estimate.
type RiskLevel string

const (
	RiskExtreme  RiskLevel = "EXTREME"
	RiskHigh     RiskLevel = "HIGH"
	RiskModerate RiskLevel = "MODERATE"
	RiskLow      RiskLevel = "LOW"
)

// ImpactLevel grades the overall business impact of an audit.
type ImpactLevel string

const (
	ImpactCritical ImpactLevel = "CRITICAL"
	ImpactHigh     ImpactLevel = "HIGH"
	ImpactMedium   ImpactLevel = "MEDIUM"
	ImpactLow      ImpactLevel = "LOW"
)

// ContractMeta carries the contract-level attributes the reasoner factors
// into its estimates. It is populated by the fetch collaborator when a
// contract is pulled from an explorer, or left zero for local files.
type ContractMeta struct {
	Name       string `json:"name,omitempty"`
	Address    string `json:"address,omitempty"`
	Network    string `json:"network,omitempty"`
	IsVerified bool   `json:"is_verified"`
	HoldsFunds bool   `json:"holds_funds"`
}

// ReasoningContext is the reasoner's input: contract metadata plus the
// flattened finding list. Each finding carries its originating detector.
type ReasoningContext struct {
	Meta     ContractMeta `json:"meta"`
	Findings []Finding    `json:"findings"`
}

// Interaction records a dangerous co-occurrence of two vulnerability
// categories anywhere in the finding set.
type Interaction struct {
	Name        string     `json:"name"`
	Categories  []Category `json:"categories"`
	Severity    Severity   `json:"severity"`
	Multiplier  float64    `json:"multiplier"`
	Description string     `json:"description"`
}

// AttackVector is a canned description of how a present vulnerability
// class is exploited in practice.
type AttackVector struct {
	Category      Category `json:"category"`
	Name          string   `json:"name"`
	Steps         []string `json:"steps"`
	Complexity    string   `json:"complexity"`
	Prerequisites []string `json:"prerequisites"`
	EstimatedLoss string   `json:"estimated_loss"`
}

// ExploitProbability is the per-finding likelihood estimate combining the
// category base rate with contextual factors from ContractMeta. The factor
// fields record how the base rate was adjusted so reports can show the
// derivation.
type ExploitProbability struct {
	FindingID   string    `json:"finding_id"`
	Title       string    `json:"title"`
	Category    Category  `json:"category"`
	Severity    Severity  `json:"severity"`
	Base        float64   `json:"base"`
	Complexity  float64   `json:"complexity_factor"`
	Visibility  float64   `json:"visibility_factor"`
	ValueAtRisk float64   `json:"value_factor"`
	Probability float64   `json:"probability"`
	RiskLevel   RiskLevel `json:"risk_level"`
}

// CompoundVulnerability is a named risk amplification recorded when two
// specific categories co-occur.
type CompoundVulnerability struct {
	Name        string     `json:"name"`
	Categories  []Category `json:"categories"`
	Severity    Severity   `json:"severity"`
	Multiplier  float64    `json:"multiplier"`
	Description string     `json:"description"`
}

// ScenarioStep is one ordered action inside an attack scenario.
type ScenarioStep struct {
	Order  int    `json:"order"`
	Action string `json:"action"`
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`
}

// AttackScenario is a concrete end-to-end exploitation narrative for a
// present vulnerability category.
type AttackScenario struct {
	Category        Category       `json:"category"`
	Name            string         `json:"name"`
	Severity        Severity       `json:"severity"`
	Prerequisites   []string       `json:"prerequisites"`
	Steps           []ScenarioStep `json:"steps"`
	EstimatedTime   string         `json:"estimated_time"`
	EstimatedCost   string         `json:"estimated_cost"`
	EstimatedProfit string         `json:"estimated_profit"`
}

// ImpactScore is one 0-10 business-impact axis with a short rationale.
type ImpactScore struct {
	Score       float64 `json:"score"`
	Description string  `json:"description"`
}

// BusinessImpact holds the four impact axes and the overall grade derived
// from their average.
type BusinessImpact struct {
	Financial    ImpactScore `json:"financial"`
	Reputational ImpactScore `json:"reputational"`
	Operational  ImpactScore `json:"operational"`
	Legal        ImpactScore `json:"legal"`
	Overall      float64     `json:"overall"`
	Level        ImpactLevel `json:"level"`
}

// ActionItem is one remediation tier in the prioritized plan.
type ActionItem struct {
	Priority   string     `json:"priority"`
	Timeframe  string     `json:"timeframe"`
	Actions    []string   `json:"actions"`
	Categories []Category `json:"categories,omitempty"`
	Compounds  []string   `json:"compounds,omitempty"`
}

// ActionPlan is the ordered remediation plan with a total-effort estimate.
type ActionPlan struct {
	Items               []ActionItem `json:"items"`
	TotalEffortDays     float64      `json:"total_effort_days"`
	EstimatedTime       string       `json:"estimated_time"`
	TestingRequirements []string     `json:"testing_requirements"`
}

// ReasoningResult is the reasoner's full output. Every field is a pure
// function of the ReasoningContext; nothing here depends on oracle
// availability or task scheduling.
type ReasoningResult struct {
	Interactions            []Interaction           `json:"interactions"`
	AttackVectors           []AttackVector          `json:"attack_vectors"`
	ExploitProbabilities    []ExploitProbability    `json:"exploit_probabilities"`
	CompoundVulnerabilities []CompoundVulnerability `json:"compound_vulnerabilities"`
	AttackScenarios         []AttackScenario        `json:"attack_scenarios"`
	BusinessImpact          BusinessImpact          `json:"business_impact"`
	ActionPlan              ActionPlan              `json:"action_plan"`
}
