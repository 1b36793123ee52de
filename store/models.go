package store

import (
	"time"

	"github.com/google/uuid"
)

// Plan identifies an organization's subscription tier.
type Plan string

const (
	PlanCancelled    Plan = "cancelled"
	PlanStarter      Plan = "starter"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"
	PlanTrial        Plan = "trial"
)

// ValidPlans is the set of valid plan values.
var ValidPlans = map[Plan]bool{
	PlanCancelled:    true,
	PlanStarter:      true,
	PlanProfessional: true,
	PlanEnterprise:   true,
	PlanTrial:        true,
}

// planLevels orders plans for feature gating and upgrade/downgrade
// classification. Trial deliberately sits at the professional level:
// trials unlock the mid-tier feature set.
var planLevels = map[Plan]int{
	PlanCancelled:    0,
	PlanStarter:      1,
	PlanTrial:        2,
	PlanProfessional: 2,
	PlanEnterprise:   3,
}

// Level returns the plan's position in the tier hierarchy.
// Unknown plans map to 0, the same as cancelled.
func (p Plan) Level() int {
	return planLevels[p]
}

// BillingCycle identifies how often a subscription renews.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleAnnual  BillingCycle = "annual"
)

// ValidCycles is the set of valid billing cycle values.
var ValidCycles = map[BillingCycle]bool{
	CycleMonthly: true,
	CycleAnnual:  true,
}

// Role represents a membership role within an organization.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleStaff  Role = "staff"
	RoleParent Role = "parent"
)

// CanManageBilling reports whether the role may start, change or manage
// the organization's subscription.
func (r Role) CanManageBilling() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Organization is the billable tenant entity. StripeSubscriptionID is
// non-nil iff the organization has an active or past subscription at the
// processor; an organization with a nil subscription id must go through
// checkout, never through plan change.
type Organization struct {
	ID                   uuid.UUID    `json:"id"`
	Name                 string       `json:"name"`
	OwnerID              uuid.UUID    `json:"owner_id"`
	Plan                 Plan         `json:"plan"`
	BillingCycle         BillingCycle `json:"billing_cycle"`
	StripeCustomerID     *string      `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string      `json:"stripe_subscription_id,omitempty"`
	TrialEndsAt          *time.Time   `json:"trial_ends_at,omitempty"`
	MaxChildren          int          `json:"max_children"`
	MaxStaff             int          `json:"max_staff"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// SubscriptionEventType classifies recorded subscription transitions.
type SubscriptionEventType string

const (
	EventPlanUpgraded   SubscriptionEventType = "plan.upgraded"
	EventPlanDowngraded SubscriptionEventType = "plan.downgraded"
)

// Proration values recorded on subscription events.
const (
	ProrationImmediate  = "immediate"
	ProrationNextPeriod = "next_period"
)

// SubscriptionEvent is an append-only audit record of an accepted plan
// change. Events are never read back to reconstruct state; the
// organization row is the single source of truth for the current plan.
type SubscriptionEvent struct {
	ID              uuid.UUID             `json:"id"`
	SubscriptionID  string                `json:"subscription_id"`
	OrganizationID  uuid.UUID             `json:"organization_id"`
	EventType       SubscriptionEventType `json:"event_type"`
	PreviousPlan    Plan                  `json:"previous_plan"`
	NewPlan         Plan                  `json:"new_plan"`
	BillingCycle    BillingCycle          `json:"billing_cycle"`
	Proration       string                `json:"proration"`
	UnitAmountCents int64                 `json:"unit_amount_cents"`
	UnitCount       int                   `json:"unit_count"`
	CreatedAt       time.Time             `json:"created_at"`
}

// AuditEntry is a durable audit log row.
type AuditEntry struct {
	ID           int64          `json:"id"`
	Action       string         `json:"action"`
	Severity     string         `json:"severity"`
	ActorID      *uuid.UUID     `json:"actor_id,omitempty"`
	ActorEmail   string         `json:"actor_email,omitempty"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// User represents a platform user.
type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}
