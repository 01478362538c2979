// Package reasoning derives the cross-detector analysis of an audit: how
// vulnerability categories interact, how likely each finding is to be
// exploited, what a concrete attack looks like, and what to fix first.
// The whole pipeline is a pure function of its input — identical finding
// sets yield identical results, independent of detector scheduling.
package reasoning

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
)

type Reasoner struct {
	logger *zap.Logger
}

// New creates a Reasoner. The logger is the only dependency; all rule
// tables are compiled in.
func New(logger *zap.Logger) *Reasoner {
	return &Reasoner{
		logger: logger.Named("reasoner"),
	}
}

// Reason runs the seven-step analysis pipeline over the flattened finding
// list and contract metadata.
func (r *Reasoner) Reason(rctx schemas.ReasoningContext) schemas.ReasoningResult {
	present := presentCategories(rctx.Findings)

	interactions := r.analyzeInteractions(present)
	vectors := r.identifyAttackVectors(present)
	probabilities := r.calculateExploitProbabilities(rctx)
	compounds := r.detectCompounds(present)
	scenarios := r.generateScenarios(present)
	impact := r.calculateBusinessImpact(rctx.Findings, compounds)
	plan := r.generateActionPlan(rctx.Findings, compounds)

	r.logger.Debug("Reasoning complete",
		zap.Int("findings", len(rctx.Findings)),
		zap.Int("interactions", len(interactions)),
		zap.Int("compounds", len(compounds)),
		zap.String("businessImpact", string(impact.Level)),
	)

	return schemas.ReasoningResult{
		Interactions:            interactions,
		AttackVectors:           vectors,
		ExploitProbabilities:    probabilities,
		CompoundVulnerabilities: compounds,
		AttackScenarios:         scenarios,
		BusinessImpact:          impact,
		ActionPlan:              plan,
	}
}

// presentCategories collapses the finding list to the set of categories it
// contains. Duplicate findings of one category are indistinguishable from
// a single one everywhere presence gates a rule.
func presentCategories(findings []schemas.Finding) map[schemas.Category]bool {
	present := make(map[schemas.Category]bool, len(findings))
	for _, f := range findings {
		present[f.Category] = true
	}
	return present
}

// analyzeInteractions emits one interaction record per dangerous pair
// whose categories are both present, in table order.
func (r *Reasoner) analyzeInteractions(present map[schemas.Category]bool) []schemas.Interaction {
	var interactions []schemas.Interaction
	for _, pair := range dangerousPairs {
		if !present[pair.categories[0]] || !present[pair.categories[1]] {
			continue
		}
		interactions = append(interactions, schemas.Interaction{
			Name:        pair.name,
			Categories:  []schemas.Category{pair.categories[0], pair.categories[1]},
			Severity:    pair.severity,
			Multiplier:  pair.multiplier,
			Description: pair.description,
		})
	}
	return interactions
}

// identifyAttackVectors emits one canned vector per present category that
// has a table entry, in table order.
func (r *Reasoner) identifyAttackVectors(present map[schemas.Category]bool) []schemas.AttackVector {
	var vectors []schemas.AttackVector
	for _, vector := range attackVectorTable {
		if present[vector.Category] {
			vectors = append(vectors, vector)
		}
	}
	return vectors
}

// calculateExploitProbabilities estimates per-finding exploit likelihood
// from the category base rate adjusted by attack complexity, contract
// visibility, and value at risk.
func (r *Reasoner) calculateExploitProbabilities(rctx schemas.ReasoningContext) []schemas.ExploitProbability {
	var probabilities []schemas.ExploitProbability

	for _, f := range rctx.Findings {
		base, ok := baseProbabilities[f.Category]
		if !ok {
			base = defaultBaseProbability
		}

		complexity := 1.0
		if strings.Contains(strings.ToLower(f.Description), complexAttackMarker) {
			complexity = 0.6
		}

		// Verified source lowers the bar for reading the contract but also
		// for defenders; the original model nets this out as a reduction.
		visibility := 1.0
		if rctx.Meta.IsVerified {
			visibility = 0.9
		}

		value := 1.0
		if rctx.Meta.HoldsFunds {
			value = 1.2
		}

		probability := base * complexity * visibility * value
		if probability > 1.0 {
			probability = 1.0
		}

		probabilities = append(probabilities, schemas.ExploitProbability{
			FindingID:   f.ID,
			Title:       f.Title,
			Category:    f.Category,
			Severity:    f.Severity,
			Base:        base,
			Complexity:  complexity,
			Visibility:  visibility,
			ValueAtRisk: value,
			Probability: round2(probability),
			RiskLevel:   categorizeRisk(probability, f.Severity),
		})
	}

	return probabilities
}

// categorizeRisk grades the combination of exploit probability and
// severity weight.
func categorizeRisk(probability float64, severity schemas.Severity) schemas.RiskLevel {
	score := probability * float64(severity.Weight())
	switch {
	case score >= 7:
		return schemas.RiskExtreme
	case score >= 5:
		return schemas.RiskHigh
	case score >= 3:
		return schemas.RiskModerate
	default:
		return schemas.RiskLow
	}
}

// detectCompounds surfaces the dangerous-pair table entries whose
// categories are all present as named compound vulnerabilities.
func (r *Reasoner) detectCompounds(present map[schemas.Category]bool) []schemas.CompoundVulnerability {
	var compounds []schemas.CompoundVulnerability
	for _, pair := range dangerousPairs {
		if !present[pair.categories[0]] || !present[pair.categories[1]] {
			continue
		}
		compounds = append(compounds, schemas.CompoundVulnerability{
			Name:        pair.name,
			Categories:  []schemas.Category{pair.categories[0], pair.categories[1]},
			Severity:    pair.severity,
			Multiplier:  pair.multiplier,
			Description: pair.description,
		})
	}
	return compounds
}

// generateScenarios emits the canned attack narrative for each present
// category with a table entry.
func (r *Reasoner) generateScenarios(present map[schemas.Category]bool) []schemas.AttackScenario {
	var scenarios []schemas.AttackScenario
	for _, scenario := range scenarioTable {
		if present[scenario.Category] {
			scenarios = append(scenarios, scenario)
		}
	}
	return scenarios
}

// calculateBusinessImpact scores the four impact axes and derives the
// overall grade from their average. Detected compound vulnerabilities
// count toward the critical/high tallies at their recorded severity: a
// contract whose findings amplify each other carries more business risk
// than the same findings in isolation.
func (r *Reasoner) calculateBusinessImpact(findings []schemas.Finding, compounds []schemas.CompoundVulnerability) schemas.BusinessImpact {
	criticals, highs := 0, 0
	hasDoS := false
	for _, f := range findings {
		switch f.Severity {
		case schemas.SeverityCritical:
			criticals++
		case schemas.SeverityHigh:
			highs++
		}
		if f.Category == schemas.CategoryDenialOfService {
			hasDoS = true
		}
	}
	for _, c := range compounds {
		switch c.Severity {
		case schemas.SeverityCritical:
			criticals++
		case schemas.SeverityHigh:
			highs++
		}
	}

	financial := schemas.ImpactScore{
		Score:       math.Min(float64(criticals*3+highs*2), 10),
		Description: "Moderate financial risk",
	}
	if financial.Score >= 8 {
		financial.Description = "Potential for total loss of contract funds"
	}

	reputational := schemas.ImpactScore{Score: 5, Description: "Moderate reputational risk"}
	if criticals > 0 {
		reputational = schemas.ImpactScore{
			Score:       9,
			Description: "Severe damage to project reputation and user trust",
		}
	}

	operational := schemas.ImpactScore{Score: 4, Description: "Limited operational impact"}
	if hasDoS {
		operational = schemas.ImpactScore{
			Score:       8,
			Description: "Contract operations could be halted",
		}
	}

	legal := schemas.ImpactScore{
		Score:       math.Min(float64(criticals*2), 10),
		Description: "Low legal risk",
	}
	if criticals > 0 {
		legal.Description = "Potential regulatory scrutiny and legal liability"
	}

	overall := (financial.Score + reputational.Score + operational.Score + legal.Score) / 4

	level := schemas.ImpactLow
	switch {
	case overall >= 8:
		level = schemas.ImpactCritical
	case overall >= 6:
		level = schemas.ImpactHigh
	case overall >= 4:
		level = schemas.ImpactMedium
	}

	return schemas.BusinessImpact{
		Financial:    financial,
		Reputational: reputational,
		Operational:  operational,
		Legal:        legal,
		Overall:      round2(overall),
		Level:        level,
	}
}

// generateActionPlan buckets findings into severity tiers with fixed
// remediation text. Detected compound vulnerabilities are inserted ahead
// of everything else.
func (r *Reasoner) generateActionPlan(findings []schemas.Finding, compounds []schemas.CompoundVulnerability) schemas.ActionPlan {
	var criticalF, highF, mediumF, lowF []schemas.Finding
	for _, f := range findings {
		switch f.Severity {
		case schemas.SeverityCritical:
			criticalF = append(criticalF, f)
		case schemas.SeverityHigh:
			highF = append(highF, f)
		case schemas.SeverityMedium:
			mediumF = append(mediumF, f)
		default:
			lowF = append(lowF, f)
		}
	}

	var items []schemas.ActionItem

	if len(criticalF) > 0 {
		items = append(items, schemas.ActionItem{
			Priority:  "IMMEDIATE",
			Timeframe: "Before deployment / Emergency patch",
			Actions: []string{
				fmt.Sprintf("Fix %d critical vulnerabilities", len(criticalF)),
				"Halt deployment if already live",
				"Engage professional security auditor",
				"Prepare incident response plan",
			},
			Categories: categoriesOf(criticalF),
		})
	}
	if len(highF) > 0 {
		items = append(items, schemas.ActionItem{
			Priority:  "URGENT",
			Timeframe: "Within 48 hours",
			Actions: []string{
				fmt.Sprintf("Address %d high-severity issues", len(highF)),
				"Review and test fixes thoroughly",
				"Update documentation",
			},
			Categories: categoriesOf(highF),
		})
	}
	if len(mediumF) > 0 {
		items = append(items, schemas.ActionItem{
			Priority:  "MEDIUM",
			Timeframe: "Within 1 week",
			Actions: []string{
				fmt.Sprintf("Resolve %d medium-severity issues", len(mediumF)),
				"Implement additional tests",
			},
			Categories: categoriesOf(mediumF),
		})
	}
	if len(lowF) > 0 {
		items = append(items, schemas.ActionItem{
			Priority:  "LOW",
			Timeframe: "Before final release",
			Actions: []string{
				fmt.Sprintf("Address %d optimization opportunities", len(lowF)),
				"Refactor for better gas efficiency",
			},
			Categories: categoriesOf(lowF),
		})
	}

	if len(compounds) > 0 {
		names := make([]string, len(compounds))
		for i, c := range compounds {
			names[i] = c.Name
		}
		items = append([]schemas.ActionItem{{
			Priority:  "CRITICAL",
			Timeframe: "IMMEDIATE",
			Actions: []string{
				fmt.Sprintf("Fix compound vulnerabilities: %d detected", len(compounds)),
				"These amplify risk significantly",
				"Address underlying issues in both vulnerability types",
			},
			Compounds: names,
		}}, items...)
	}

	totalDays := 0.0
	for _, f := range findings {
		totalDays += fixEffortDays(f.Severity)
	}

	return schemas.ActionPlan{
		Items:               items,
		TotalEffortDays:     totalDays,
		EstimatedTime:       formatEffort(totalDays),
		TestingRequirements: testingRequirements(),
	}
}

// categoriesOf lists each finding's category in finding order. Duplicates
// are kept so the list length matches the tier's finding count.
func categoriesOf(findings []schemas.Finding) []schemas.Category {
	categories := make([]schemas.Category, len(findings))
	for i, f := range findings {
		categories[i] = f.Category
	}
	return categories
}

// formatEffort converts a day estimate to the coarsest sensible unit.
func formatEffort(days float64) string {
	switch {
	case days < 1:
		return fmt.Sprintf("%d hours", int(days*8))
	case days < 7:
		return fmt.Sprintf("%d days", int(days))
	default:
		return fmt.Sprintf("%d weeks", int(days/7))
	}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
