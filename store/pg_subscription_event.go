package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSubscriptionEventStore implements SubscriptionEventStore backed by
// PostgreSQL. Rows are append-only; there is no update or delete path.
type PGSubscriptionEventStore struct {
	pool *pgxpool.Pool
}

func (s *PGSubscriptionEventStore) Append(ctx context.Context, e *SubscriptionEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO subscription_events
			(id, subscription_id, organization_id, event_type, previous_plan,
			 new_plan, billing_cycle, proration, unit_amount_cents, unit_count, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
		RETURNING created_at`,
		e.ID, e.SubscriptionID, e.OrganizationID, e.EventType, e.PreviousPlan,
		e.NewPlan, e.BillingCycle, e.Proration, e.UnitAmountCents, e.UnitCount).
		Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append subscription event: %w", err)
	}
	return nil
}

func (s *PGSubscriptionEventStore) ListForOrganization(ctx context.Context, orgID uuid.UUID, limit int) ([]*SubscriptionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, subscription_id, organization_id, event_type, previous_plan,
		       new_plan, billing_cycle, proration, unit_amount_cents, unit_count, created_at
		FROM subscription_events
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list subscription events: %w", err)
	}
	defer rows.Close()

	var events []*SubscriptionEvent
	for rows.Next() {
		var e SubscriptionEvent
		err := rows.Scan(&e.ID, &e.SubscriptionID, &e.OrganizationID, &e.EventType,
			&e.PreviousPlan, &e.NewPlan, &e.BillingCycle, &e.Proration,
			&e.UnitAmountCents, &e.UnitCount, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan subscription event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
