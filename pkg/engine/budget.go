package engine

import "fmt"

// BudgetTable maps each risk class to its per-band token budgets.
type BudgetTable map[RiskClass]Budget

// BudgetOverride partially replaces a base budget. Zero fields keep the
// base value.
type BudgetOverride struct {
	BandA int
	BandB int
	BandC int
}

// defaultBudgets gives riskier queries materially more full-text grounding.
// BandA is strictly increasing from low to critical.
var defaultBudgets = BudgetTable{
	RiskLow:      {BandA: 1200, BandB: 2400, BandC: 800},
	RiskMedium:   {BandA: 2000, BandB: 3200, BandC: 1200},
	RiskHigh:     {BandA: 3200, BandB: 4000, BandC: 1600},
	RiskCritical: {BandA: 4800, BandB: 5600, BandC: 2400},
}

// compactBudgets is a smaller profile for hosts with tight context windows.
var compactBudgets = BudgetTable{
	RiskLow:      {BandA: 600, BandB: 1200, BandC: 400},
	RiskMedium:   {BandA: 1000, BandB: 1600, BandC: 600},
	RiskHigh:     {BandA: 1600, BandB: 2000, BandC: 800},
	RiskCritical: {BandA: 2400, BandB: 2800, BandC: 1200},
}

// DefaultBudgetTable returns a copy of the named profile's table.
// Unknown profiles fall back to the default profile.
func DefaultBudgetTable(profile string) BudgetTable {
	src := defaultBudgets
	if profile == "compact" {
		src = compactBudgets
	}
	out := make(BudgetTable, len(src))
	for class, b := range src {
		out[class] = b
	}
	return out
}

// BudgetForRiskClass resolves the budget for one class: profile base first,
// then override fields where set. Never fails.
func BudgetForRiskClass(class RiskClass, profile string, overrides map[RiskClass]BudgetOverride) Budget {
	base := DefaultBudgetTable(profile)[class]
	ov, ok := overrides[class]
	if !ok {
		return base
	}
	if ov.BandA > 0 {
		base.BandA = ov.BandA
	}
	if ov.BandB > 0 {
		base.BandB = ov.BandB
	}
	if ov.BandC > 0 {
		base.BandC = ov.BandC
	}
	return base
}

// ValidateBudgets checks every class for positive capacities and a sane
// bandA/bandB ratio. It returns one human-readable message per violation
// and never panics or errors, so callers can report all problems at once.
func ValidateBudgets(table BudgetTable) []string {
	var problems []string
	for _, class := range RiskClasses() {
		b, ok := table[class]
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: missing budget entry", class))
			continue
		}
		if b.BandA <= 0 {
			problems = append(problems, fmt.Sprintf("%s: bandA must be positive, got %d", class, b.BandA))
		}
		if b.BandB <= 0 {
			problems = append(problems, fmt.Sprintf("%s: bandB must be positive, got %d", class, b.BandB))
		}
		if b.BandC <= 0 {
			problems = append(problems, fmt.Sprintf("%s: bandC must be positive, got %d", class, b.BandC))
		}
		if b.BandA > 0 && b.BandB > 0 {
			ratio := float64(b.BandA) / float64(b.BandB)
			if ratio <= 0.25 || ratio >= 2.0 {
				problems = append(problems, fmt.Sprintf("%s: bandA/bandB ratio %.2f outside (0.25, 2.0)", class, ratio))
			}
		}
	}
	return problems
}
