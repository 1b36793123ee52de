package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryOrganizationStore is a thread-safe in-memory OrganizationStore
// for tests and single-server development.
type MemoryOrganizationStore struct {
	mu       sync.RWMutex
	orgs     map[uuid.UUID]*Organization
	members  map[uuid.UUID]map[uuid.UUID]Role // orgID -> userID -> role
	children map[uuid.UUID]int                // orgID -> enrolled count
}

// NewMemoryOrganizationStore creates an empty MemoryOrganizationStore.
func NewMemoryOrganizationStore() *MemoryOrganizationStore {
	return &MemoryOrganizationStore{
		orgs:     make(map[uuid.UUID]*Organization),
		members:  make(map[uuid.UUID]map[uuid.UUID]Role),
		children: make(map[uuid.UUID]int),
	}
}

// Put inserts or replaces an organization.
func (s *MemoryOrganizationStore) Put(o *Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orgs[o.ID] = &cp
}

// SetMemberRole assigns userID the given role in the organization.
func (s *MemoryOrganizationStore) SetMemberRole(orgID, userID uuid.UUID, role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[orgID]
	if !ok {
		m = make(map[uuid.UUID]Role)
		s.members[orgID] = m
	}
	m[userID] = role
}

// SetChildCount sets the billable enrolled-children count.
func (s *MemoryOrganizationStore) SetChildCount(orgID uuid.UUID, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children[orgID] = n
}

func (s *MemoryOrganizationStore) Get(_ context.Context, id uuid.UUID) (*Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryOrganizationStore) GetMemberRole(_ context.Context, orgID, userID uuid.UUID) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o, ok := s.orgs[orgID]; ok && o.OwnerID == userID {
		return RoleOwner, nil
	}
	if role, ok := s.members[orgID][userID]; ok {
		return role, nil
	}
	return "", ErrNotFound
}

func (s *MemoryOrganizationStore) UpdateBilling(_ context.Context, id uuid.UUID, u OrganizationBillingUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orgs[id]
	if !ok {
		return ErrNotFound
	}
	if u.Plan != nil {
		o.Plan = *u.Plan
	}
	if u.BillingCycle != nil {
		o.BillingCycle = *u.BillingCycle
	}
	if u.StripeCustomerID != nil {
		o.StripeCustomerID = u.StripeCustomerID
	}
	if u.StripeSubscriptionID != nil {
		o.StripeSubscriptionID = u.StripeSubscriptionID
	}
	if u.MaxChildren != nil {
		o.MaxChildren = *u.MaxChildren
	}
	if u.MaxStaff != nil {
		o.MaxStaff = *u.MaxStaff
	}
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryOrganizationStore) CountBillableChildren(_ context.Context, orgID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.orgs[orgID]; !ok {
		return 0, ErrNotFound
	}
	return s.children[orgID], nil
}

// MemorySubscriptionEventStore is an in-memory SubscriptionEventStore.
type MemorySubscriptionEventStore struct {
	mu     sync.Mutex
	events []*SubscriptionEvent
}

// NewMemorySubscriptionEventStore creates an empty event store.
func NewMemorySubscriptionEventStore() *MemorySubscriptionEventStore {
	return &MemorySubscriptionEventStore{}
}

func (s *MemorySubscriptionEventStore) Append(_ context.Context, e *SubscriptionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemorySubscriptionEventStore) ListForOrganization(_ context.Context, orgID uuid.UUID, limit int) ([]*SubscriptionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []*SubscriptionEvent
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if s.events[i].OrganizationID == orgID {
			cp := *s.events[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// All returns every stored event in append order.
func (s *MemorySubscriptionEventStore) All() []*SubscriptionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*SubscriptionEvent, len(s.events))
	copy(out, s.events)
	return out
}

// MemoryAuditStore is an in-memory AuditStore.
type MemoryAuditStore struct {
	mu      sync.Mutex
	entries []*AuditEntry
	nextID  int64

	// RecordErr, when set, is returned by Record. Tests use it to
	// exercise best-effort durability.
	RecordErr error
}

// NewMemoryAuditStore creates an empty MemoryAuditStore.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Record(_ context.Context, e *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecordErr != nil {
		return s.RecordErr
	}
	s.nextID++
	cp := *e
	cp.ID = s.nextID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, &cp)
	return nil
}

// Entries returns a copy of all recorded entries.
func (s *MemoryAuditStore) Entries() []*AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// MemoryUserStore is an in-memory UserStore.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*User
}

// NewMemoryUserStore creates an empty MemoryUserStore.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[uuid.UUID]*User)}
}

// Put inserts or replaces a user.
func (s *MemoryUserStore) Put(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

func (s *MemoryUserStore) Get(_ context.Context, id uuid.UUID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}
