package billing

import (
	"fmt"

	"github.com/nidohq/nido/store"
)

// Rate prices one plan on one billing cycle: a per-unit amount and a
// minimum charge, both in integer cents. All money in this package is
// integer cents end to end, so identical inputs always produce
// byte-identical results.
type Rate struct {
	UnitAmountCents int64 `yaml:"unit_amount_cents" json:"unit_amount_cents"`
	MinimumCents    int64 `yaml:"minimum_cents" json:"minimum_cents"`
}

// PriceTable maps plan and billing cycle to a Rate. Monthly and annual
// rates are independent configuration set by finance; the annual rate is
// never derived from the monthly one.
type PriceTable map[store.Plan]map[store.BillingCycle]Rate

// DefaultPriceTable is the deployed rate card. A billable unit is one
// enrolled child. Annual amounts are per unit per year.
var DefaultPriceTable = PriceTable{
	store.PlanStarter: {
		store.CycleMonthly: {UnitAmountCents: 200, MinimumCents: 5_000},
		store.CycleAnnual:  {UnitAmountCents: 2_160, MinimumCents: 54_000},
	},
	store.PlanProfessional: {
		store.CycleMonthly: {UnitAmountCents: 300, MinimumCents: 10_000},
		store.CycleAnnual:  {UnitAmountCents: 3_240, MinimumCents: 108_000},
	},
	store.PlanEnterprise: {
		store.CycleMonthly: {UnitAmountCents: 400, MinimumCents: 20_000},
		store.CycleAnnual:  {UnitAmountCents: 4_320, MinimumCents: 216_000},
	},
}

// AnnualQuote is the result of pricing a plan on the annual cycle.
type AnnualQuote struct {
	AnnualCents int64 `json:"annual_cents"`
	// EquivalentMonthlyCents is AnnualCents/12 truncated toward zero,
	// for display only. The annual total is what gets charged.
	EquivalentMonthlyCents int64 `json:"equivalent_monthly_cents"`
}

// Rate returns the configured rate for the plan and cycle, or an error
// for plans that are not priced (trial, cancelled, unknown).
func (t PriceTable) Rate(plan store.Plan, cycle store.BillingCycle) (Rate, error) {
	cycles, ok := t[plan]
	if !ok {
		return Rate{}, fmt.Errorf("billing: plan %q is not priced", plan)
	}
	r, ok := cycles[cycle]
	if !ok {
		return Rate{}, fmt.Errorf("billing: plan %q has no %s rate", plan, cycle)
	}
	return r, nil
}

// MonthlyPriceCents returns max(unitCount × rate, minimum) for the plan's
// monthly cycle. Pure function: no I/O, no clock, safe to call on every
// page render.
func (t PriceTable) MonthlyPriceCents(plan store.Plan, unitCount int) (int64, error) {
	if unitCount < 0 {
		return 0, fmt.Errorf("billing: unit count %d is negative", unitCount)
	}
	r, err := t.Rate(plan, store.CycleMonthly)
	if err != nil {
		return 0, err
	}
	return floorTo(int64(unitCount)*r.UnitAmountCents, r.MinimumCents), nil
}

// AnnualPrice prices the plan on the annual cycle using its independent
// annual rate and minimum.
func (t PriceTable) AnnualPrice(plan store.Plan, unitCount int) (AnnualQuote, error) {
	if unitCount < 0 {
		return AnnualQuote{}, fmt.Errorf("billing: unit count %d is negative", unitCount)
	}
	r, err := t.Rate(plan, store.CycleAnnual)
	if err != nil {
		return AnnualQuote{}, err
	}
	annual := floorTo(int64(unitCount)*r.UnitAmountCents, r.MinimumCents)
	return AnnualQuote{
		AnnualCents:            annual,
		EquivalentMonthlyCents: annual / 12,
	}, nil
}

// PriceCents prices the plan for the given cycle: the monthly charge for
// monthly billing, the annual total for annual billing.
func (t PriceTable) PriceCents(plan store.Plan, cycle store.BillingCycle, unitCount int) (int64, error) {
	switch cycle {
	case store.CycleMonthly:
		return t.MonthlyPriceCents(plan, unitCount)
	case store.CycleAnnual:
		q, err := t.AnnualPrice(plan, unitCount)
		if err != nil {
			return 0, err
		}
		return q.AnnualCents, nil
	default:
		return 0, fmt.Errorf("billing: unknown billing cycle %q", cycle)
	}
}

func floorTo(amount, minimum int64) int64 {
	if amount < minimum {
		return minimum
	}
	return amount
}
