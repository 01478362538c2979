package reasoning

import (
	"github.com/ode0x/solaudit/api/schemas"
)

// complexAttackMarker in a finding description halves (×0.6) the exploit
// probability estimate.
const complexAttackMarker = "requires complex attack"

// defaultBaseProbability applies to categories absent from the base table.
const defaultBaseProbability = 0.50

// baseProbabilities is the fixed per-category exploit base rate.
var baseProbabilities = map[schemas.Category]float64{
	schemas.CategoryReentrancy:          0.85,
	schemas.CategoryAccessControl:       0.95,
	schemas.CategoryIntegerOverflow:     0.70,
	schemas.CategoryExternalCall:        0.60,
	schemas.CategoryFrontRunning:        0.75,
	schemas.CategoryTimestampDependence: 0.65,
	schemas.CategoryDenialOfService:     0.80,
	schemas.CategoryGasOptimization:     0.30,
}

// pairRule is one entry in the dangerous-pair table. The same table backs
// both the interaction analysis and compound-vulnerability detection: a
// rule fires when both categories are present anywhere in the finding set.
type pairRule struct {
	name        string
	categories  [2]schemas.Category
	severity    schemas.Severity
	multiplier  float64
	description string
}

var dangerousPairs = []pairRule{
	{
		name:       "Reentrancy with Weak Access Control",
		categories: [2]schemas.Category{schemas.CategoryReentrancy, schemas.CategoryAccessControl},
		severity:   schemas.SeverityCritical,
		multiplier: 3.0,
		description: "Critical compound vulnerability: Reentrancy can be exploited " +
			"by unauthorized parties due to missing access controls. " +
			"This significantly amplifies the attack surface and potential loss.",
	},
	{
		name:       "Arithmetic Overflow in External Context",
		categories: [2]schemas.Category{schemas.CategoryIntegerOverflow, schemas.CategoryExternalCall},
		severity:   schemas.SeverityHigh,
		multiplier: 2.0,
		description: "Integer overflow combined with external calls can propagate " +
			"corrupted state to dependent contracts, causing cascading failures.",
	},
	{
		name:       "Unauthorized DoS Attack",
		categories: [2]schemas.Category{schemas.CategoryAccessControl, schemas.CategoryDenialOfService},
		severity:   schemas.SeverityHigh,
		multiplier: 1.8,
		description: "Missing access control on DoS-vulnerable functions allows " +
			"anyone to halt contract operations indefinitely.",
	},
	{
		name:       "Reentrancy with State Corruption",
		categories: [2]schemas.Category{schemas.CategoryReentrancy, schemas.CategoryIntegerOverflow},
		severity:   schemas.SeverityCritical,
		multiplier: 2.5,
		description: "Reentrancy combined with integer overflow can cause permanent " +
			"state corruption while draining funds.",
	},
}

// attackVectorTable maps each covered category to its canned exploitation
// vector. One vector is emitted per present category; categories without
// an entry are skipped.
var attackVectorTable = []schemas.AttackVector{
	{
		Category: schemas.CategoryReentrancy,
		Name:     "Recursive Call Attack",
		Steps: []string{
			"1. Attacker deploys malicious contract with fallback function",
			"2. Attacker calls vulnerable withdraw() function",
			"3. Fallback function reenters withdraw() before state update",
			"4. Process repeats until contract is drained",
		},
		Complexity: "medium",
		Prerequisites: []string{
			"Contract must have external call before state update",
			"Attacker needs initial balance in contract",
		},
		EstimatedLoss: "Total contract balance",
	},
	{
		Category: schemas.CategoryAccessControl,
		Name:     "Unauthorized Access",
		Steps: []string{
			"1. Attacker identifies unprotected privileged function",
			"2. Attacker calls function directly without authorization",
			"3. Attacker executes privileged operations (withdraw, mint, etc.)",
		},
		Complexity: "low",
		Prerequisites: []string{
			"Function must be public/external without modifiers",
		},
		EstimatedLoss: "Function-specific (could be total funds)",
	},
	{
		Category: schemas.CategoryIntegerOverflow,
		Name:     "Balance Manipulation",
		Steps: []string{
			"1. Attacker finds arithmetic operation without SafeMath",
			"2. Attacker crafts transaction to trigger overflow",
			"3. Balance wraps around to very large number",
			"4. Attacker withdraws inflated balance",
		},
		Complexity: "medium",
		Prerequisites: []string{
			"Solidity version < 0.8.0 without SafeMath",
			"User-controllable arithmetic operation",
		},
		EstimatedLoss: "Variable (depends on overflow location)",
	},
	{
		Category: schemas.CategoryExternalCall,
		Name:     "Call Return Manipulation",
		Steps: []string{
			"1. Attacker deploys contract that fails on call",
			"2. Contract makes unchecked call to attacker contract",
			"3. Call fails but execution continues",
			"4. Contract state becomes inconsistent",
		},
		Complexity: "low",
		Prerequisites: []string{
			"Contract must not check call return values",
		},
		EstimatedLoss: "Depends on failed call consequences",
	},
}

// scenarioTable holds the end-to-end exploitation narratives, gated on
// category presence.
var scenarioTable = []schemas.AttackScenario{
	{
		Category: schemas.CategoryReentrancy,
		Name:     "Reentrancy Attack Scenario",
		Severity: schemas.SeverityCritical,
		Prerequisites: []string{
			"Attacker has ETH to deposit",
			"Contract allows withdrawals",
		},
		Steps: []schemas.ScenarioStep{
			{
				Order:  1,
				Action: "Deploy malicious contract",
				Code:   "contract Attacker { fallback() external payable { victim.withdraw(balance); } }",
			},
			{
				Order:  2,
				Action: "Deposit initial funds",
				Code:   "victim.deposit{value: 1 ether}();",
			},
			{
				Order:  3,
				Action: "Trigger reentrancy",
				Code:   "victim.withdraw(1 ether); // Fallback reenters",
			},
			{
				Order:  4,
				Action: "Drain contract",
				Detail: "Contract balance transferred to attacker",
			},
		},
		EstimatedTime:   "1 transaction",
		EstimatedCost:   "~200k gas",
		EstimatedProfit: "Full contract balance",
	},
	{
		Category: schemas.CategoryAccessControl,
		Name:     "Unauthorized Access Scenario",
		Severity: schemas.SeverityHigh,
		Prerequisites: []string{
			"Public function without access modifier",
		},
		Steps: []schemas.ScenarioStep{
			{
				Order:  1,
				Action: "Identify unprotected function",
				Detail: "Read contract source or ABI",
			},
			{
				Order:  2,
				Action: "Call privileged function directly",
				Code:   "victim.emergencyWithdraw(); // No onlyOwner check",
			},
			{
				Order:  3,
				Action: "Receive unauthorized funds",
				Detail: "Attacker receives contract funds",
			},
		},
		EstimatedTime:   "1 transaction",
		EstimatedCost:   "~50k gas",
		EstimatedProfit: "Function-dependent",
	},
}

// fixEffortDays estimates remediation effort for one finding.
func fixEffortDays(severity schemas.Severity) float64 {
	switch severity {
	case schemas.SeverityCritical:
		return 2
	case schemas.SeverityHigh:
		return 1
	case schemas.SeverityMedium:
		return 0.5
	case schemas.SeverityLow:
		return 0.25
	default:
		return 0.5
	}
}

// testingRequirements returns the fixed post-fix verification checklist.
func testingRequirements() []string {
	return []string{
		"Unit tests for all fixes",
		"Integration tests for compound vulnerabilities",
		"Gas optimization verification",
		"Re-run full security audit after fixes",
	}
}
