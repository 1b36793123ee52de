package store

import (
	"context"

	"github.com/google/uuid"
)

// OrganizationBillingUpdate is a partial update of an organization's
// billing fields. Nil pointers leave the column untouched. The same
// write path is shared by the subscription orchestrator and by webhook
// reconciliation so there is exactly one way billing state mutates.
type OrganizationBillingUpdate struct {
	Plan                 *Plan
	BillingCycle         *BillingCycle
	StripeCustomerID     *string
	StripeSubscriptionID *string
	MaxChildren          *int
	MaxStaff             *int
}

// OrganizationStore defines persistence operations for organizations.
type OrganizationStore interface {
	Get(ctx context.Context, id uuid.UUID) (*Organization, error)
	// GetMemberRole returns the role userID holds in the organization,
	// or ErrNotFound when the user is not a member.
	GetMemberRole(ctx context.Context, orgID, userID uuid.UUID) (Role, error)
	// UpdateBilling applies a partial billing-field update.
	UpdateBilling(ctx context.Context, id uuid.UUID, u OrganizationBillingUpdate) error
	// CountBillableChildren returns the number of currently enrolled
	// children, the unit count subscriptions are priced from.
	CountBillableChildren(ctx context.Context, orgID uuid.UUID) (int, error)
}

// SubscriptionEventStore defines persistence for the append-only
// subscription event trail.
type SubscriptionEventStore interface {
	Append(ctx context.Context, e *SubscriptionEvent) error
	ListForOrganization(ctx context.Context, orgID uuid.UUID, limit int) ([]*SubscriptionEvent, error)
}

// AuditStore defines durable persistence for audit entries.
type AuditStore interface {
	Record(ctx context.Context, e *AuditEntry) error
}

// UserStore defines persistence operations for users.
type UserStore interface {
	Get(ctx context.Context, id uuid.UUID) (*User, error)
}
