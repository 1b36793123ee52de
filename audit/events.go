package audit

import "context"

// Action names for the money- and security-relevant events this
// subsystem records.
const (
	ActionCheckoutStarted   = "billing.checkout_started"
	ActionPlanChanged       = "billing.plan_changed"
	ActionPortalOpened      = "billing.portal_opened"
	ActionSecurityAlert     = "security.alert"
	ActionAccessDenied      = "access.denied"
	ActionReconciliationGap = "billing.reconciliation_gap"
)

// CheckoutStarted records that a hosted checkout session was created.
func (l *Logger) CheckoutStarted(ctx context.Context, actor Actor, orgID, plan, cycle string, amountCents int64, unitCount int) {
	l.Record(ctx, Entry{
		Action:       ActionCheckoutStarted,
		Severity:     SeverityInfo,
		Actor:        actor,
		ResourceType: "organization",
		ResourceID:   orgID,
		Details: map[string]any{
			"plan":          plan,
			"billing_cycle": cycle,
			"amount_cents":  amountCents,
			"unit_count":    unitCount,
		},
	})
}

// PlanChanged records a completed subscription plan change.
func (l *Logger) PlanChanged(ctx context.Context, actor Actor, orgID, previousPlan, newPlan, cycle, proration string, amountCents int64) {
	l.Record(ctx, Entry{
		Action:       ActionPlanChanged,
		Severity:     SeverityInfo,
		Actor:        actor,
		ResourceType: "organization",
		ResourceID:   orgID,
		Details: map[string]any{
			"previous_plan": previousPlan,
			"new_plan":      newPlan,
			"billing_cycle": cycle,
			"proration":     proration,
			"amount_cents":  amountCents,
		},
	})
}

// PortalOpened records a self-service billing portal access.
func (l *Logger) PortalOpened(ctx context.Context, actor Actor, orgID string) {
	l.Record(ctx, Entry{
		Action:       ActionPortalOpened,
		Severity:     SeverityInfo,
		Actor:        actor,
		ResourceType: "organization",
		ResourceID:   orgID,
	})
}

// SecurityAlert records a warning-level security event such as a request
// carrying a client-supplied amount.
func (l *Logger) SecurityAlert(ctx context.Context, actor Actor, action string, details map[string]any) {
	l.Record(ctx, Entry{
		Action:   ActionSecurityAlert,
		Severity: SeverityWarning,
		Actor:    actor,
		Details:  mergeDetail(details, "alert", action),
	})
}

// AccessDenied records a plan-gate or authorization denial.
func (l *Logger) AccessDenied(ctx context.Context, actor Actor, orgID, reason string) {
	l.Record(ctx, Entry{
		Action:       ActionAccessDenied,
		Severity:     SeverityWarning,
		Actor:        actor,
		ResourceType: "organization",
		ResourceID:   orgID,
		Details:      map[string]any{"reason": reason},
	})
}

// ReconciliationGap records that the processor accepted a change but the
// local bookkeeping failed. Critical: operators must reconcile
// out-of-band, with the processor as the source of truth.
func (l *Logger) ReconciliationGap(ctx context.Context, actor Actor, orgID, subscriptionID string, cause error, details map[string]any) {
	d := mergeDetail(details, "error", cause.Error())
	d["subscription_id"] = subscriptionID
	l.Record(ctx, Entry{
		Action:       ActionReconciliationGap,
		Severity:     SeverityCritical,
		Actor:        actor,
		ResourceType: "organization",
		ResourceID:   orgID,
		Details:      d,
	})
}

func mergeDetail(details map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out[key] = value
	return out
}
