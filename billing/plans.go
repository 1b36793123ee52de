package billing

import "github.com/nidohq/nido/store"

// PlanLimits describes the per-plan resource limits written to an
// organization when its plan changes.
type PlanLimits struct {
	MaxChildren int `json:"max_children"` // 0 = unlimited
	MaxStaff    int `json:"max_staff"`    // 0 = unlimited
}

// planLimits is the static per-plan limits table. Deployment-time
// configuration, not runtime-mutable state.
var planLimits = map[store.Plan]PlanLimits{
	store.PlanTrial:        {MaxChildren: 15, MaxStaff: 5},
	store.PlanStarter:      {MaxChildren: 40, MaxStaff: 10},
	store.PlanProfessional: {MaxChildren: 120, MaxStaff: 40},
	store.PlanEnterprise:   {MaxChildren: 0, MaxStaff: 0},
	// Cancelled keeps trial-sized caps; zero here would read as
	// unlimited under the convention above.
	store.PlanCancelled: {MaxChildren: 15, MaxStaff: 5},
}

// LimitsFor returns the resource limits for a plan.
func LimitsFor(plan store.Plan) PlanLimits {
	return planLimits[plan]
}

// PayablePlans is the set of plans a subscription can be started on or
// changed to. Trial and cancelled are lifecycle states, not purchasable
// tiers.
var PayablePlans = map[store.Plan]bool{
	store.PlanStarter:      true,
	store.PlanProfessional: true,
	store.PlanEnterprise:   true,
}
