package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGConfig holds PostgreSQL connection configuration.
type PGConfig struct {
	URL      string `yaml:"url" json:"url"`
	MaxConns int32  `yaml:"max_conns" json:"max_conns"`
	MinConns int32  `yaml:"min_conns" json:"min_conns"`
}

// PGStore wraps a pgxpool.Pool and provides access to all domain stores.
type PGStore struct {
	pool *pgxpool.Pool

	orgs   *PGOrganizationStore
	events *PGSubscriptionEventStore
	audit  *PGAuditStore
	users  *PGUserStore
}

// NewPGStore connects to PostgreSQL and returns a PGStore with all sub-stores.
func NewPGStore(ctx context.Context, cfg PGConfig) (*PGStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}

	s := &PGStore{pool: pool}
	s.orgs = &PGOrganizationStore{pool: pool}
	s.events = &PGSubscriptionEventStore{pool: pool}
	s.audit = &PGAuditStore{pool: pool}
	s.users = &PGUserStore{pool: pool}

	return s, nil
}

// Pool returns the underlying pgxpool.Pool.
func (s *PGStore) Pool() *pgxpool.Pool { return s.pool }

// Close closes the connection pool.
func (s *PGStore) Close() { s.pool.Close() }

// Organizations returns the OrganizationStore.
func (s *PGStore) Organizations() OrganizationStore { return s.orgs }

// SubscriptionEvents returns the SubscriptionEventStore.
func (s *PGStore) SubscriptionEvents() SubscriptionEventStore { return s.events }

// Audit returns the AuditStore.
func (s *PGStore) Audit() AuditStore { return s.audit }

// Users returns the UserStore.
func (s *PGStore) Users() UserStore { return s.users }
