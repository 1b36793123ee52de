package store

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestPlanLevelOrdering(t *testing.T) {
	if !(PlanCancelled.Level() < PlanStarter.Level()) {
		t.Error("cancelled must rank below starter")
	}
	if !(PlanStarter.Level() < PlanProfessional.Level()) {
		t.Error("starter must rank below professional")
	}
	if PlanTrial.Level() != PlanProfessional.Level() {
		t.Error("trial must rank at the professional level")
	}
	if !(PlanProfessional.Level() < PlanEnterprise.Level()) {
		t.Error("professional must rank below enterprise")
	}
	if Plan("bogus").Level() != 0 {
		t.Error("unknown plans must rank with cancelled")
	}
}

func TestRoleCanManageBilling(t *testing.T) {
	tests := []struct {
		role Role
		want bool
	}{
		{RoleOwner, true},
		{RoleAdmin, true},
		{RoleStaff, false},
		{RoleParent, false},
		{Role(""), false},
	}
	for _, tc := range tests {
		if got := tc.role.CanManageBilling(); got != tc.want {
			t.Errorf("%q.CanManageBilling() = %v, want %v", tc.role, got, tc.want)
		}
	}
}

func TestMemoryOrganizationStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryOrganizationStore()
	org := &Organization{ID: uuid.New(), Name: "Little Sprouts", Plan: PlanStarter}
	s.Put(org)

	got, err := s.Get(context.Background(), org.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.Plan = PlanEnterprise

	again, _ := s.Get(context.Background(), org.ID)
	if again.Plan != PlanStarter {
		t.Error("mutating a returned organization leaked into the store")
	}
}

func TestMemoryOrganizationStore_GetUnknown(t *testing.T) {
	s := NewMemoryOrganizationStore()
	_, err := s.Get(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryOrganizationStore_UpdateBillingIsPartial(t *testing.T) {
	s := NewMemoryOrganizationStore()
	custID := "cus_1"
	org := &Organization{
		ID:               uuid.New(),
		Plan:             PlanStarter,
		BillingCycle:     CycleMonthly,
		StripeCustomerID: &custID,
		MaxChildren:      40,
		MaxStaff:         10,
	}
	s.Put(org)

	newPlan := PlanProfessional
	maxChildren := 120
	err := s.UpdateBilling(context.Background(), org.ID, OrganizationBillingUpdate{
		Plan:        &newPlan,
		MaxChildren: &maxChildren,
	})
	if err != nil {
		t.Fatalf("UpdateBilling: %v", err)
	}

	got, _ := s.Get(context.Background(), org.ID)
	if got.Plan != PlanProfessional {
		t.Errorf("Plan = %q", got.Plan)
	}
	if got.MaxChildren != 120 {
		t.Errorf("MaxChildren = %d", got.MaxChildren)
	}
	// Untouched fields keep their values.
	if got.BillingCycle != CycleMonthly {
		t.Errorf("BillingCycle = %q, want monthly", got.BillingCycle)
	}
	if got.StripeCustomerID == nil || *got.StripeCustomerID != "cus_1" {
		t.Error("customer id was clobbered by a partial update")
	}
	if got.MaxStaff != 10 {
		t.Errorf("MaxStaff = %d, want 10", got.MaxStaff)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped")
	}
}

func TestMemoryOrganizationStore_UpdateBillingUnknown(t *testing.T) {
	s := NewMemoryOrganizationStore()
	err := s.UpdateBilling(context.Background(), uuid.New(), OrganizationBillingUpdate{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryOrganizationStore_MemberRoles(t *testing.T) {
	s := NewMemoryOrganizationStore()
	ownerID := uuid.New()
	adminID := uuid.New()
	orgID := uuid.New()
	s.Put(&Organization{ID: orgID, OwnerID: ownerID})
	s.SetMemberRole(orgID, adminID, RoleAdmin)

	role, err := s.GetMemberRole(context.Background(), orgID, ownerID)
	if err != nil || role != RoleOwner {
		t.Errorf("owner role = %q, err = %v", role, err)
	}
	role, err = s.GetMemberRole(context.Background(), orgID, adminID)
	if err != nil || role != RoleAdmin {
		t.Errorf("admin role = %q, err = %v", role, err)
	}
	if _, err := s.GetMemberRole(context.Background(), orgID, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("non-member err = %v, want ErrNotFound", err)
	}
}

func TestMemoryOrganizationStore_CountBillableChildren(t *testing.T) {
	s := NewMemoryOrganizationStore()
	orgID := uuid.New()
	s.Put(&Organization{ID: orgID})

	n, err := s.CountBillableChildren(context.Background(), orgID)
	if err != nil || n != 0 {
		t.Errorf("fresh org count = %d, err = %v", n, err)
	}

	s.SetChildCount(orgID, 30)
	n, err = s.CountBillableChildren(context.Background(), orgID)
	if err != nil || n != 30 {
		t.Errorf("count = %d, err = %v", n, err)
	}

	if _, err := s.CountBillableChildren(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown org err = %v, want ErrNotFound", err)
	}
}

func TestMemorySubscriptionEventStore_ListNewestFirstWithLimit(t *testing.T) {
	s := NewMemorySubscriptionEventStore()
	orgID := uuid.New()
	otherOrg := uuid.New()
	ctx := context.Background()

	plans := []Plan{PlanStarter, PlanProfessional, PlanEnterprise}
	for _, p := range plans {
		if err := s.Append(ctx, &SubscriptionEvent{OrganizationID: orgID, NewPlan: p}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := s.Append(ctx, &SubscriptionEvent{OrganizationID: otherOrg, NewPlan: PlanStarter}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.ListForOrganization(ctx, orgID, 2)
	if err != nil {
		t.Fatalf("ListForOrganization: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].NewPlan != PlanEnterprise || got[1].NewPlan != PlanProfessional {
		t.Errorf("order = %q, %q; want newest first", got[0].NewPlan, got[1].NewPlan)
	}
	for _, e := range got {
		if e.OrganizationID != orgID {
			t.Error("event from another organization leaked into listing")
		}
		if e.ID == uuid.Nil || e.CreatedAt.IsZero() {
			t.Error("append did not stamp id and timestamp")
		}
	}
}

func TestMemoryAuditStore_AssignsSequentialIDs(t *testing.T) {
	s := NewMemoryAuditStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := s.Record(ctx, &AuditEntry{Action: "billing.plan_changed"}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	entries := s.Entries()
	if len(entries) != 3 {
		t.Fatalf("len = %d", len(entries))
	}
	for i, e := range entries {
		if e.ID != int64(i+1) {
			t.Errorf("entry %d has ID %d", i, e.ID)
		}
	}
}
