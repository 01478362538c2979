package reasoning

import (
	"math"

	"github.com/ode0x/solaudit/api/schemas"
)

// RiskScore condenses a finding list to a 0-10 scalar. Each finding
// contributes a tenth of its severity weight; the sum saturates at 10 so
// a large report cannot exceed the scale.
func RiskScore(findings []schemas.Finding) float64 {
	score := 0.0
	for _, f := range findings {
		score += float64(f.Severity.Weight()) / 10
	}
	if score > 10 {
		score = 10
	}
	return math.Round(score*100) / 100
}
