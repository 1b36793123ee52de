package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGOrganizationStore implements OrganizationStore backed by PostgreSQL.
type PGOrganizationStore struct {
	pool *pgxpool.Pool
}

func (s *PGOrganizationStore) Get(ctx context.Context, id uuid.UUID) (*Organization, error) {
	var o Organization
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, owner_id, plan, billing_cycle, stripe_customer_id,
		       stripe_subscription_id, trial_ends_at, max_children, max_staff,
		       created_at, updated_at
		FROM organizations WHERE id = $1`, id).Scan(
		&o.ID, &o.Name, &o.OwnerID, &o.Plan, &o.BillingCycle, &o.StripeCustomerID,
		&o.StripeSubscriptionID, &o.TrialEndsAt, &o.MaxChildren, &o.MaxStaff,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return &o, nil
}

func (s *PGOrganizationStore) GetMemberRole(ctx context.Context, orgID, userID uuid.UUID) (Role, error) {
	var role Role
	err := s.pool.QueryRow(ctx, `
		SELECT CASE WHEN o.owner_id = $2 THEN 'owner' ELSE m.role END
		FROM organizations o
		LEFT JOIN memberships m ON m.organization_id = o.id AND m.user_id = $2
		WHERE o.id = $1 AND (o.owner_id = $2 OR m.user_id IS NOT NULL)`,
		orgID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get member role: %w", err)
	}
	return role, nil
}

func (s *PGOrganizationStore) UpdateBilling(ctx context.Context, id uuid.UUID, u OrganizationBillingUpdate) error {
	sets := []string{}
	args := []interface{}{}
	idx := 1

	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if u.Plan != nil {
		add("plan", *u.Plan)
	}
	if u.BillingCycle != nil {
		add("billing_cycle", *u.BillingCycle)
	}
	if u.StripeCustomerID != nil {
		add("stripe_customer_id", *u.StripeCustomerID)
	}
	if u.StripeSubscriptionID != nil {
		add("stripe_subscription_id", *u.StripeSubscriptionID)
	}
	if u.MaxChildren != nil {
		add("max_children", *u.MaxChildren)
	}
	if u.MaxStaff != nil {
		add("max_staff", *u.MaxStaff)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = NOW()")

	query := fmt.Sprintf(`UPDATE organizations SET %s WHERE id = $%d`,
		strings.Join(sets, ", "), idx)
	args = append(args, id)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update organization billing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGOrganizationStore) CountBillableChildren(ctx context.Context, orgID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM children
		WHERE organization_id = $1 AND status = 'enrolled'`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count billable children: %w", err)
	}
	return count, nil
}
