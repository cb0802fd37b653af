package types

import "time"

// BudgetStatus classifies total estimated spend against the configured
// monthly budget.
type BudgetStatus string

const (
	BudgetOptimal   BudgetStatus = "optimal"
	BudgetEfficient BudgetStatus = "efficient"
	BudgetWarning   BudgetStatus = "warning"
	BudgetCritical  BudgetStatus = "critical"
)

// ClassifySpend maps a spend/budget ratio onto a status. Boundaries belong
// to the higher severity: exactly 70% is efficient, exactly 95% is
// critical. A zero or negative budget is always critical since any spend
// exceeds it.
func ClassifySpend(totalSpend, monthlyBudget float64) BudgetStatus {
	if monthlyBudget <= 0 {
		return BudgetCritical
	}
	ratio := totalSpend / monthlyBudget
	switch {
	case ratio >= 0.95:
		return BudgetCritical
	case ratio >= 0.85:
		return BudgetWarning
	case ratio >= 0.70:
		return BudgetEfficient
	default:
		return BudgetOptimal
	}
}

// TierSpend is one tier's share of the estimated monthly spend.
type TierSpend struct {
	Tier       TierID  `json:"tier"`
	Bytes      int64   `json:"bytes"`
	Spend      float64 `json:"spend"`
	FileCount  int64   `json:"file_count"`
}

// BudgetSnapshot is the budget monitor's output: a point-in-time estimate
// of spend per tier plus a classification and advice. Snapshots are never
// mutated, each monitor run produces a fresh one.
type BudgetSnapshot struct {
	PerTier         []TierSpend  `json:"per_tier"`
	TotalSpend      float64      `json:"total_spend"`
	MonthlyBudget   float64      `json:"monthly_budget"`
	Status          BudgetStatus `json:"status"`
	Recommendations []string     `json:"recommendations,omitempty"`
	GeneratedAt     time.Time    `json:"generated_at"`
}

// UtilizationPercent reports spend as a percentage of budget, or zero when
// no budget is configured.
func (s *BudgetSnapshot) UtilizationPercent() float64 {
	if s.MonthlyBudget <= 0 {
		return 0
	}
	return s.TotalSpend / s.MonthlyBudget * 100
}
