package access

import (
	"time"

	"github.com/nidohq/nido/store"
)

// Feature names a gated product capability.
type Feature string

const (
	FeatureAttendance      Feature = "attendance"
	FeatureDailyReports    Feature = "daily_reports"
	FeatureBillingHistory  Feature = "billing_history"
	FeatureParentPortal    Feature = "parent_portal"
	FeatureStaffScheduling Feature = "staff_scheduling"
	FeatureAnalytics       Feature = "analytics"
	FeatureMultiSite       Feature = "multi_site"
	FeatureAPIAccess       Feature = "api_access"
)

// featureLevels maps each feature to the minimum plan level that unlocks
// it. Deployment-time configuration, not runtime-mutable state.
var featureLevels = map[Feature]int{
	FeatureAttendance:      1,
	FeatureDailyReports:    1,
	FeatureBillingHistory:  1,
	FeatureParentPortal:    2,
	FeatureStaffScheduling: 2,
	FeatureAnalytics:       2,
	FeatureMultiSite:       3,
	FeatureAPIAccess:       3,
}

// routeFeatures maps UI route prefixes to the feature they require.
var routeFeatures = map[string]Feature{
	"/attendance": FeatureAttendance,
	"/reports":    FeatureDailyReports,
	"/billing":    FeatureBillingHistory,
	"/portal":     FeatureParentPortal,
	"/scheduling": FeatureStaffScheduling,
	"/analytics":  FeatureAnalytics,
	"/sites":      FeatureMultiSite,
	"/developer":  FeatureAPIAccess,
}

// FeatureForRoute returns the feature guarding a route prefix, or "" for
// ungated routes.
func FeatureForRoute(prefix string) Feature {
	return routeFeatures[prefix]
}

// RequiredLevel returns the minimum plan level for a feature. Unknown
// features require level 0 and are effectively ungated.
func RequiredLevel(f Feature) int {
	return featureLevels[f]
}

// RequiredPlan returns the cheapest plan that reaches the feature's
// level, for the upgrade hint shown to denied users.
func RequiredPlan(f Feature) store.Plan {
	switch RequiredLevel(f) {
	case 3:
		return store.PlanEnterprise
	case 2:
		return store.PlanProfessional
	default:
		return store.PlanStarter
	}
}

// EffectiveLevel returns the organization's plan level for gating
// purposes. An expired trial is demoted to the cancelled level on read.
// The stored plan value is not mutated here; reconciliation persists the
// cancellation later.
func EffectiveLevel(org *store.Organization, now time.Time) int {
	if org.Plan == store.PlanTrial && org.TrialEndsAt != nil && now.After(*org.TrialEndsAt) {
		return store.PlanCancelled.Level()
	}
	return org.Plan.Level()
}

// IsAllowed reports whether the organization's current plan unlocks the
// feature. Evaluated fresh on every request so plan changes take effect
// immediately.
func IsAllowed(org *store.Organization, f Feature, now time.Time) bool {
	return EffectiveLevel(org, now) >= RequiredLevel(f)
}
