package reasoning

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
)

func newTestReasoner(t *testing.T) *Reasoner {
	t.Helper()
	return New(zap.NewNop())
}

func testFinding(category schemas.Category, severity schemas.Severity) schemas.Finding {
	return schemas.Finding{
		ID:       fmt.Sprintf("%s-%s", category, severity),
		Detector: "test",
		Severity: severity,
		Category: category,
		Title:    fmt.Sprintf("%s finding", category),
		Location: "function test()",
		Line:     1,
	}
}

func contextWith(findings ...schemas.Finding) schemas.ReasoningContext {
	return schemas.ReasoningContext{Findings: findings}
}

func TestInteractionsRequireBothCategories(t *testing.T) {
	t.Parallel()

	r := newTestReasoner(t)

	for _, pair := range dangerousPairs {
		pair := pair
		t.Run(pair.name, func(t *testing.T) {
			t.Parallel()

			first := testFinding(pair.categories[0], schemas.SeverityHigh)
			second := testFinding(pair.categories[1], schemas.SeverityHigh)

			// Either category alone is not an interaction.
			res := r.Reason(contextWith(first))
			for _, in := range res.Interactions {
				assert.NotEqual(t, pair.name, in.Name)
			}
			res = r.Reason(contextWith(second))
			for _, in := range res.Interactions {
				assert.NotEqual(t, pair.name, in.Name)
			}

			res = r.Reason(contextWith(first, second))
			require.Len(t, res.Interactions, 1)
			got := res.Interactions[0]
			assert.Equal(t, pair.name, got.Name)
			assert.Equal(t, []schemas.Category{pair.categories[0], pair.categories[1]}, got.Categories)
			assert.Equal(t, pair.severity, got.Severity)
			assert.InDelta(t, pair.multiplier, got.Multiplier, 1e-9)
			assert.Equal(t, pair.description, got.Description)
		})
	}
}

func TestInteractionsMatchCompoundVulnerabilities(t *testing.T) {
	t.Parallel()

	r := newTestReasoner(t)
	res := r.Reason(contextWith(
		testFinding(schemas.CategoryReentrancy, schemas.SeverityHigh),
		testFinding(schemas.CategoryAccessControl, schemas.SeverityCritical),
		testFinding(schemas.CategoryIntegerOverflow, schemas.SeverityHigh),
		testFinding(schemas.CategoryExternalCall, schemas.SeverityMedium),
		testFinding(schemas.CategoryDenialOfService, schemas.SeverityHigh),
	))

	// All five pair categories are present, so every rule fires once, and
	// the interaction and compound views agree field for field.
	require.Len(t, res.Interactions, len(dangerousPairs))
	require.Len(t, res.CompoundVulnerabilities, len(dangerousPairs))
	for i, in := range res.Interactions {
		compound := res.CompoundVulnerabilities[i]
		assert.Equal(t, in.Name, compound.Name)
		assert.Equal(t, in.Categories, compound.Categories)
		assert.Equal(t, in.Severity, compound.Severity)
		assert.InDelta(t, in.Multiplier, compound.Multiplier, 1e-9)
		assert.Equal(t, in.Description, compound.Description)
	}
}

func TestCompoundIgnoresDuplicateFindings(t *testing.T) {
	t.Parallel()

	r := newTestReasoner(t)
	res := r.Reason(contextWith(
		testFinding(schemas.CategoryReentrancy, schemas.SeverityHigh),
		testFinding(schemas.CategoryReentrancy, schemas.SeverityMedium),
		testFinding(schemas.CategoryReentrancy, schemas.SeverityLow),
		testFinding(schemas.CategoryAccessControl, schemas.SeverityCritical),
		testFinding(schemas.CategoryAccessControl, schemas.SeverityHigh),
	))

	require.Len(t, res.CompoundVulnerabilities, 1)
	assert.Equal(t, "Reentrancy with Weak Access Control", res.CompoundVulnerabilities[0].Name)
}

func TestAttackVectorsOnePerCategory(t *testing.T) {
	t.Parallel()

	r := newTestReasoner(t)
	res := r.Reason(contextWith(
		testFinding(schemas.CategoryReentrancy, schemas.SeverityHigh),
		testFinding(schemas.CategoryReentrancy, schemas.SeverityHigh),
		testFinding(schemas.CategoryReentrancy, schemas.SeverityMedium),
		testFinding(schemas.CategoryAccessControl, schemas.SeverityCritical),
		testFinding(schemas.CategoryGasOptimization, schemas.SeverityLow),
		testFinding(schemas.CategoryOther, schemas.SeverityInfo),
	))

	// Three reentrancy findings share one vector; gas and uncategorized
	// findings have none.
	require.Len(t, res.AttackVectors, 2)
	assert.Equal(t, "Recursive Call Attack", res.AttackVectors[0].Name)
	assert.Equal(t, "Unauthorized Access", res.AttackVectors[1].Name)
}

func TestAttackVectorContents(t *testing.T) {
	t.Parallel()

	r := newTestReasoner(t)
	res := r.Reason(contextWith(testFinding(schemas.CategoryReentrancy, schemas.SeverityHigh)))

	require.Len(t, res.AttackVectors, 1)
	vector := res.AttackVectors[0]
	assert.Equal(t, schemas.CategoryReentrancy, vector.Category)
	assert.Equal(t, "medium", vector.Complexity)
	assert.Equal(t, "Total contract balance", vector.EstimatedLoss)
	require.Len(t, vector.Steps, 4)
	assert.Equal(t, "1. Attacker deploys malicious contract with fallback function", vector.Steps[0])
	assert.Equal(t, "4. Process repeats until contract is drained", vector.Steps[3])
	assert.Contains(t, vector.Prerequisites, "Attacker needs initial balance in contract")
}

func TestExploitProbabilityBaseRates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		category schemas.Category
		base     float64
	}{
		{schemas.CategoryReentrancy, 0.85},
		{schemas.CategoryAccessControl, 0.95},
		{schemas.CategoryIntegerOverflow, 0.70},
		{schemas.CategoryExternalCall, 0.60},
		{schemas.CategoryFrontRunning, 0.75},
		{schemas.CategoryTimestampDependence, 0.65},
		{schemas.CategoryDenialOfService, 0.80},
		{schemas.CategoryGasOptimization, 0.30},
		{schemas.CategoryOther, 0.50},
	}

	r := newTestReasoner(t)
	for _, tc := range cases {
		tc := tc
		t.Run(string(tc.category), func(t *testing.T) {
			t.Parallel()

			res := r.Reason(contextWith(testFinding(tc.category, schemas.SeverityMedium)))
			require.Len(t, res.ExploitProbabilities, 1)
			p := res.ExploitProbabilities[0]
			assert.InDelta(t, tc.base, p.Base, 1e-9)
			assert.InDelta(t, 1.0, p.Complexity, 1e-9)
			assert.InDelta(t, 1.0, p.Visibility, 1e-9)
			assert.InDelta(t, 1.0, p.ValueAtRisk, 1e-9)
			assert.InDelta(t, tc.base, p.Probability, 1e-9)
		})
	}
}

func TestExploitProbabilityFactors(t *testing.T) {
	t.Parallel()

	r := newTestReasoner(t)

	complex := testFinding(schemas.CategoryReentrancy, schemas.SeverityHigh)
	complex.Description = "Exploitation Requires Complex Attack setup across two blocks."
	plain := testFinding(schemas.CategoryIntegerOverflow, schemas.SeverityHigh)

	res := r.Reason(schemas.ReasoningContext{
		Meta:     schemas.ContractMeta{IsVerified: true, HoldsFunds: true},
		Findings: []schemas.Finding{complex, plain},
	})

	require.Len(t, res.ExploitProbabilities, 2)

	first := res.ExploitProbabilities[0]
	assert.InDelta(t, 0.6, first.Complexity, 1e-9)
	assert.InDelta(t, 0.9, first.Visibility, 1e-9)
	assert.InDelta(t, 1.2, first.ValueAtRisk, 1e-9)
	// 0.85 * 0.6 * 0.9 * 1.2 = 0.5508, rounded to two decimals.
	assert.InDelta(t, 0.55, first.Probability, 1e-9)

	second := res.ExploitProbabilities[1]
	assert.InDelta(t, 1.0, second.Complexity, 1e-9)
	// 0.70 * 0.9 * 1.2 = 0.756
	assert.InDelta(t, 0.76, second.Probability, 1e-9)
}

func TestExploitProbabilityCapped(t *testing.T) {
	t.Parallel()

	r := newTestReasoner(t)
	res := r.Reason(schemas.ReasoningContext{
		Meta:     schemas.ContractMeta{HoldsFunds: true},
		Findings: []schemas.Finding{testFinding(schemas.CategoryAccessControl, schemas.SeverityCritical)},
	})

	require.Len(t, res.ExploitProbabilities, 1)
	p := res.ExploitProbabilities[0]
	// 0.95 * 1.2 = 1.14 saturates at certainty.
	assert.InDelta(t, 1.0, p.Probability, 1e-9)
	assert.Equal(t, schemas.RiskExtreme, p.RiskLevel)
}

func TestRiskLevels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		category schemas.Category
		severity schemas.Severity
		want     schemas.RiskLevel
	}{
		// 0.95 * 10 = 9.5
		{"critical access control", schemas.CategoryAccessControl, schemas.SeverityCritical, schemas.RiskExtreme},
		// 0.85 * 7 = 5.95
		{"high reentrancy", schemas.CategoryReentrancy, schemas.SeverityHigh, schemas.RiskHigh},
		// 0.70 * 7 = 4.9
		{"high overflow", schemas.CategoryIntegerOverflow, schemas.SeverityHigh, schemas.RiskModerate},
		// 0.70 * 4 = 2.8
		{"medium overflow", schemas.CategoryIntegerOverflow, schemas.SeverityMedium, schemas.RiskLow},
		// 0.80 * 7 = 5.6
		{"high denial of service", schemas.CategoryDenialOfService, schemas.SeverityHigh, schemas.RiskHigh},
		// 0.30 * 2 = 0.6
		{"low gas", schemas.CategoryGasOptimization, schemas.SeverityLow, schemas.RiskLow},
		// 0.50 * 1 = 0.5
		{"info uncategorized", schemas.CategoryOther, schemas.SeverityInfo, schemas.RiskLow},
	}

	r := newTestReasoner(t)
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			res := r.Reason(contextWith(testFinding(tc.category, tc.severity)))
			require.Len(t, res.ExploitProbabilities, 1)
			assert.Equal(t, tc.want, res.ExploitProbabilities[0].RiskLevel)
		})
	}
}

func TestScenariosGatedOnCategory(t *testing.T) {
	t.Parallel()

	r := newTestReasoner(t)

	res := r.Reason(contextWith(
		testFinding(schemas.CategoryReentrancy, schemas.SeverityHigh),
		testFinding(schemas.CategoryAccessControl, schemas.SeverityCritical),
	))
	require.Len(t, res.AttackScenarios, 2)

	reentrancy := res.AttackScenarios[0]
	assert.Equal(t, "Reentrancy Attack Scenario", reentrancy.Name)
	assert.Equal(t, schemas.SeverityCritical, reentrancy.Severity)
	require.Len(t, reentrancy.Steps, 4)
	for i, step := range reentrancy.Steps {
		assert.Equal(t, i+1, step.Order)
	}
	assert.Equal(t, "victim.withdraw(1 ether); // Fallback reenters", reentrancy.Steps[2].Code)
	assert.Equal(t, "~200k gas", reentrancy.EstimatedCost)

	access := res.AttackScenarios[1]
	assert.Equal(t, "Unauthorized Access Scenario", access.Name)
	require.Len(t, access.Steps, 3)
	assert.Equal(t, "victim.emergencyWithdraw(); // No onlyOwner check", access.Steps[1].Code)

	res = r.Reason(contextWith(testFinding(schemas.CategoryGasOptimization, schemas.SeverityLow)))
	assert.Empty(t, res.AttackScenarios)
}

func TestBusinessImpactCountsCompounds(t *testing.T) {
	t.Parallel()

	// One critical finding plus the critical reentrancy/access-control
	// compound makes two criticals and one high: financial min(3*2+2*1,10)=8,
	// reputational 9, operational 4, legal min(2*2,10)=4, overall 6.25.
	r := newTestReasoner(t)
	res := r.Reason(contextWith(
		testFinding(schemas.CategoryAccessControl, schemas.SeverityCritical),
		testFinding(schemas.CategoryReentrancy, schemas.SeverityHigh),
	))

	require.Len(t, res.CompoundVulnerabilities, 1)

	impact := res.BusinessImpact
	assert.InDelta(t, 8, impact.Financial.Score, 1e-9)
	assert.Equal(t, "Potential for total loss of contract funds", impact.Financial.Description)
	assert.InDelta(t, 9, impact.Reputational.Score, 1e-9)
	assert.Equal(t, "Severe damage to project reputation and user trust", impact.Reputational.Description)
	assert.InDelta(t, 4, impact.Operational.Score, 1e-9)
	assert.InDelta(t, 4, impact.Legal.Score, 1e-9)
	assert.Equal(t, "Potential regulatory scrutiny and legal liability", impact.Legal.Description)
	assert.InDelta(t, 6.25, impact.Overall, 1e-9)
	assert.Equal(t, schemas.ImpactHigh, impact.Level)
}

func TestBusinessImpactCleanContract(t *testing.T) {
	t.Parallel()

	r := newTestReasoner(t)
	res := r.Reason(contextWith())

	impact := res.BusinessImpact
	assert.InDelta(t, 0, impact.Financial.Score, 1e-9)
	assert.Equal(t, "Moderate financial risk", impact.Financial.Description)
	assert.InDelta(t, 5, impact.Reputational.Score, 1e-9)
	assert.InDelta(t, 4, impact.Operational.Score, 1e-9)
	assert.Equal(t, "Limited operational impact", impact.Operational.Description)
	assert.InDelta(t, 0, impact.Legal.Score, 1e-9)
	assert.Equal(t, "Low legal risk", impact.Legal.Description)
	assert.InDelta(t, 2.25, impact.Overall, 1e-9)
	assert.Equal(t, schemas.ImpactLow, impact.Level)
}

func TestBusinessImpactDenialOfService(t *testing.T) {
	t.Parallel()

	r := newTestReasoner(t)
	res := r.Reason(contextWith(testFinding(schemas.CategoryDenialOfService, schemas.SeverityMedium)))

	impact := res.BusinessImpact
	assert.InDelta(t, 8, impact.Operational.Score, 1e-9)
	assert.Equal(t, "Contract operations could be halted", impact.Operational.Description)
	// (0 + 5 + 8 + 0) / 4
	assert.InDelta(t, 3.25, impact.Overall, 1e-9)
	assert.Equal(t, schemas.ImpactLow, impact.Level)
}

func TestActionPlanTiers(t *testing.T) {
	t.Parallel()

	// Categories chosen so no dangerous pair fires and the plan holds only
	// the severity tiers.
	r := newTestReasoner(t)
	res := r.Reason(contextWith(
		testFinding(schemas.CategoryTimestampDependence, schemas.SeverityCritical),
		testFinding(schemas.CategoryFrontRunning, schemas.SeverityHigh),
		testFinding(schemas.CategoryFrontRunning, schemas.SeverityHigh),
		testFinding(schemas.CategoryGasOptimization, schemas.SeverityMedium),
		testFinding(schemas.CategoryOther, schemas.SeverityLow),
		testFinding(schemas.CategoryOther, schemas.SeverityInfo),
	))

	plan := res.ActionPlan
	require.Len(t, plan.Items, 4)

	assert.Equal(t, "IMMEDIATE", plan.Items[0].Priority)
	assert.Equal(t, "Before deployment / Emergency patch", plan.Items[0].Timeframe)
	assert.Equal(t, "Fix 1 critical vulnerabilities", plan.Items[0].Actions[0])
	assert.Contains(t, plan.Items[0].Actions, "Halt deployment if already live")
	assert.Equal(t, []schemas.Category{schemas.CategoryTimestampDependence}, plan.Items[0].Categories)

	assert.Equal(t, "URGENT", plan.Items[1].Priority)
	assert.Equal(t, "Within 48 hours", plan.Items[1].Timeframe)
	assert.Equal(t, "Address 2 high-severity issues", plan.Items[1].Actions[0])
	assert.Equal(t, []schemas.Category{schemas.CategoryFrontRunning, schemas.CategoryFrontRunning}, plan.Items[1].Categories)

	assert.Equal(t, "MEDIUM", plan.Items[2].Priority)
	assert.Equal(t, "Within 1 week", plan.Items[2].Timeframe)
	assert.Equal(t, "Resolve 1 medium-severity issues", plan.Items[2].Actions[0])

	// Low and informational findings share the final tier.
	assert.Equal(t, "LOW", plan.Items[3].Priority)
	assert.Equal(t, "Before final release", plan.Items[3].Timeframe)
	assert.Equal(t, "Address 2 optimization opportunities", plan.Items[3].Actions[0])
	assert.Equal(t, []schemas.Category{schemas.CategoryOther, schemas.CategoryOther}, plan.Items[3].Categories)

	// 2 + 1 + 1 + 0.5 + 0.25 + 0.5
	assert.InDelta(t, 5.25, plan.TotalEffortDays, 1e-9)
	assert.Equal(t, "5 days", plan.EstimatedTime)
	assert.Equal(t, []string{
		"Unit tests for all fixes",
		"Integration tests for compound vulnerabilities",
		"Gas optimization verification",
		"Re-run full security audit after fixes",
	}, plan.TestingRequirements)
}

func TestActionPlanCompoundFirst(t *testing.T) {
	t.Parallel()

	r := newTestReasoner(t)
	res := r.Reason(contextWith(
		testFinding(schemas.CategoryReentrancy, schemas.SeverityCritical),
		testFinding(schemas.CategoryAccessControl, schemas.SeverityCritical),
	))

	plan := res.ActionPlan
	require.Len(t, plan.Items, 2)

	compound := plan.Items[0]
	assert.Equal(t, "CRITICAL", compound.Priority)
	assert.Equal(t, "IMMEDIATE", compound.Timeframe)
	assert.Equal(t, "Fix compound vulnerabilities: 1 detected", compound.Actions[0])
	assert.Contains(t, compound.Actions, "These amplify risk significantly")
	assert.Equal(t, []string{"Reentrancy with Weak Access Control"}, compound.Compounds)

	assert.Equal(t, "IMMEDIATE", plan.Items[1].Priority)
	assert.Equal(t, "Fix 2 critical vulnerabilities", plan.Items[1].Actions[0])
}

func TestActionPlanEffortUnits(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		severities []schemas.Severity
		days       float64
		text       string
	}{
		{"no findings", nil, 0, "0 hours"},
		{"single low", []schemas.Severity{schemas.SeverityLow}, 0.25, "2 hours"},
		{"single medium", []schemas.Severity{schemas.SeverityMedium}, 0.5, "4 hours"},
		{"two mediums", []schemas.Severity{schemas.SeverityMedium, schemas.SeverityMedium}, 1, "1 days"},
		{"single critical", []schemas.Severity{schemas.SeverityCritical}, 2, "2 days"},
		{
			"full week",
			[]schemas.Severity{
				schemas.SeverityCritical, schemas.SeverityCritical,
				schemas.SeverityHigh, schemas.SeverityHigh, schemas.SeverityHigh,
			},
			7,
			"1 weeks",
		},
	}

	r := newTestReasoner(t)
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			findings := make([]schemas.Finding, len(tc.severities))
			for i, sev := range tc.severities {
				findings[i] = testFinding(schemas.CategoryTimestampDependence, sev)
			}

			plan := r.Reason(contextWith(findings...)).ActionPlan
			assert.InDelta(t, tc.days, plan.TotalEffortDays, 1e-9)
			assert.Equal(t, tc.text, plan.EstimatedTime)
		})
	}
}

func TestReasonDeterministic(t *testing.T) {
	t.Parallel()

	rctx := schemas.ReasoningContext{
		Meta: schemas.ContractMeta{Name: "Vault", IsVerified: true, HoldsFunds: true},
		Findings: []schemas.Finding{
			testFinding(schemas.CategoryReentrancy, schemas.SeverityHigh),
			testFinding(schemas.CategoryAccessControl, schemas.SeverityCritical),
			testFinding(schemas.CategoryIntegerOverflow, schemas.SeverityHigh),
			testFinding(schemas.CategoryExternalCall, schemas.SeverityMedium),
			testFinding(schemas.CategoryDenialOfService, schemas.SeverityHigh),
			testFinding(schemas.CategoryGasOptimization, schemas.SeverityLow),
			testFinding(schemas.CategoryGasOptimization, schemas.SeverityLow),
			testFinding(schemas.CategoryOther, schemas.SeverityInfo),
		},
	}

	r := newTestReasoner(t)
	first := r.Reason(rctx)
	second := r.Reason(rctx)
	require.Equal(t, first, second)
}

func TestRiskScore(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		severities []schemas.Severity
		want       float64
	}{
		{"empty", nil, 0},
		{"single critical", []schemas.Severity{schemas.SeverityCritical}, 1.0},
		{"single high", []schemas.Severity{schemas.SeverityHigh}, 0.7},
		{
			"one of each",
			[]schemas.Severity{
				schemas.SeverityCritical, schemas.SeverityHigh, schemas.SeverityMedium,
				schemas.SeverityLow, schemas.SeverityInfo,
			},
			2.4,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			findings := make([]schemas.Finding, len(tc.severities))
			for i, sev := range tc.severities {
				findings[i] = testFinding(schemas.CategoryOther, sev)
			}
			assert.InDelta(t, tc.want, RiskScore(findings), 1e-9)
		})
	}
}

func TestRiskScoreSaturates(t *testing.T) {
	t.Parallel()

	findings := make([]schemas.Finding, 15)
	for i := range findings {
		findings[i] = testFinding(schemas.CategoryReentrancy, schemas.SeverityCritical)
	}
	assert.InDelta(t, 10.0, RiskScore(findings), 1e-9)
}

func TestRiskScoreMonotonic(t *testing.T) {
	t.Parallel()

	severities := []schemas.Severity{
		schemas.SeverityInfo, schemas.SeverityCritical, schemas.SeverityLow,
		schemas.SeverityHigh, schemas.SeverityMedium, schemas.SeverityCritical,
		schemas.SeverityInfo, schemas.SeverityHigh,
	}

	var findings []schemas.Finding
	previous := 0.0
	for _, sev := range severities {
		findings = append(findings, testFinding(schemas.CategoryOther, sev))
		score := RiskScore(findings)
		assert.GreaterOrEqual(t, score, previous)
		previous = score
	}
}
