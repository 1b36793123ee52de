package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGAuditStore implements AuditStore backed by PostgreSQL.
type PGAuditStore struct {
	pool *pgxpool.Pool
}

func (s *PGAuditStore) Record(ctx context.Context, e *AuditEntry) error {
	var details []byte
	if e.Details != nil {
		var err error
		details, err = json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO audit_log
			(action, severity, actor_id, actor_email, resource_type, resource_id,
			 details, ip_address, user_agent, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
		RETURNING id, created_at`,
		e.Action, e.Severity, e.ActorID, e.ActorEmail, e.ResourceType, e.ResourceID,
		details, e.IPAddress, e.UserAgent).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}
