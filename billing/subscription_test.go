package billing

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nidohq/nido/audit"
	"github.com/nidohq/nido/store"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type testEnv struct {
	svc      *Service
	provider *MockPaymentProvider
	orgs     *store.MemoryOrganizationStore
	events   *store.MemorySubscriptionEventStore
	auditDB  *store.MemoryAuditStore
	auditLog *audit.Logger
}

func newTestEnv() *testEnv {
	provider := NewMockPaymentProvider()
	orgs := store.NewMemoryOrganizationStore()
	events := store.NewMemorySubscriptionEventStore()
	auditDB := store.NewMemoryAuditStore()
	auditLog := audit.NewLogger(slog.New(slog.DiscardHandler), auditDB)
	svc := NewService(provider, orgs, events, auditLog, nil, URLConfig{
		CheckoutSuccessURL: "https://app.example.com/billing/success",
		CheckoutCancelURL:  "https://app.example.com/billing/cancel",
		PortalReturnURL:    "https://app.example.com/settings/billing",
	})
	return &testEnv{svc: svc, provider: provider, orgs: orgs, events: events, auditDB: auditDB, auditLog: auditLog}
}

func (e *testEnv) addOrg(plan store.Plan, cycle store.BillingCycle, children int, customerID, subID string) *store.Organization {
	org := &store.Organization{
		ID:           uuid.New(),
		Name:         "Sunshine Daycare",
		OwnerID:      uuid.New(),
		Plan:         plan,
		BillingCycle: cycle,
	}
	if customerID != "" {
		org.StripeCustomerID = &customerID
	}
	if subID != "" {
		org.StripeSubscriptionID = &subID
		e.provider.Subscriptions[subID] = &ProviderSubscription{
			ID:         subID,
			CustomerID: customerID,
			Status:     SubStatusActive,
			ItemID:     "si_" + subID,
		}
	}
	e.orgs.Put(org)
	e.orgs.SetChildCount(org.ID, children)
	return org
}

func testActor() audit.Actor {
	id := uuid.New()
	return audit.Actor{ID: &id, Email: "owner@example.com", IP: "203.0.113.9"}
}

// ---------------------------------------------------------------------------
// StartCheckout
// ---------------------------------------------------------------------------

func TestStartCheckout_AlreadySubscribedConflict(t *testing.T) {
	e := newTestEnv()
	org := e.addOrg(store.PlanStarter, store.CycleMonthly, 10, "cus_1", "sub_1")

	_, err := e.svc.StartCheckout(context.Background(), testActor(), org.ID, store.PlanProfessional, store.CycleMonthly)
	if !IsConflict(err) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if n := e.provider.CallCount(); n != 0 {
		t.Errorf("expected zero provider calls, got %d", n)
	}
}

func TestStartCheckout_CreatesCustomerLazilyAndPersists(t *testing.T) {
	e := newTestEnv()
	org := e.addOrg(store.PlanTrial, store.CycleMonthly, 30, "", "")

	result, err := e.svc.StartCheckout(context.Background(), testActor(), org.ID, store.PlanStarter, store.CycleMonthly)
	if err != nil {
		t.Fatalf("StartCheckout: %v", err)
	}
	if result.URL == "" {
		t.Error("expected a redirect URL")
	}
	// 30 units × $2 = $60, above the $50 minimum.
	if result.AmountCents != 6_000 {
		t.Errorf("AmountCents = %d, want 6000", result.AmountCents)
	}
	if result.UnitCount != 30 {
		t.Errorf("UnitCount = %d, want 30", result.UnitCount)
	}

	got, err := e.orgs.Get(context.Background(), org.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.StripeCustomerID == nil {
		t.Fatal("customer id was not persisted")
	}
}

func TestStartCheckout_ReusesExistingCustomer(t *testing.T) {
	e := newTestEnv()
	org := e.addOrg(store.PlanTrial, store.CycleMonthly, 5, "cus_existing", "")

	if _, err := e.svc.StartCheckout(context.Background(), testActor(), org.ID, store.PlanStarter, store.CycleMonthly); err != nil {
		t.Fatalf("StartCheckout: %v", err)
	}
	for _, c := range e.provider.Calls {
		if c.Op == "create_customer" {
			t.Error("should not create a customer when one already exists")
		}
	}
}

func TestStartCheckout_RejectsUnpayablePlans(t *testing.T) {
	e := newTestEnv()
	org := e.addOrg(store.PlanTrial, store.CycleMonthly, 5, "", "")

	for _, plan := range []store.Plan{store.PlanTrial, store.PlanCancelled, "bogus"} {
		_, err := e.svc.StartCheckout(context.Background(), testActor(), org.ID, plan, store.CycleMonthly)
		if !IsValidation(err) {
			t.Errorf("plan %q: expected ValidationError, got %v", plan, err)
		}
	}
	if n := e.provider.CallCount(); n != 0 {
		t.Errorf("expected zero provider calls, got %d", n)
	}
}

func TestStartCheckout_AnnualUsesAnnualRate(t *testing.T) {
	e := newTestEnv()
	org := e.addOrg(store.PlanTrial, store.CycleMonthly, 30, "cus_1", "")

	result, err := e.svc.StartCheckout(context.Background(), testActor(), org.ID, store.PlanStarter, store.CycleAnnual)
	if err != nil {
		t.Fatalf("StartCheckout: %v", err)
	}
	// 30 × 2160 = 64800 annual, not 12 × monthly.
	if result.AmountCents != 64_800 {
		t.Errorf("AmountCents = %d, want 64800", result.AmountCents)
	}
}

// ---------------------------------------------------------------------------
// ChangePlan
// ---------------------------------------------------------------------------

func TestChangePlan_RequiresSubscription(t *testing.T) {
	e := newTestEnv()
	org := e.addOrg(store.PlanStarter, store.CycleMonthly, 10, "cus_1", "")

	_, err := e.svc.ChangePlan(context.Background(), testActor(), org.ID, store.PlanProfessional, "")
	if !IsConflict(err) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestChangePlan_NoOpConflict(t *testing.T) {
	e := newTestEnv()
	org := e.addOrg(store.PlanStarter, store.CycleMonthly, 10, "cus_1", "sub_1")

	_, err := e.svc.ChangePlan(context.Background(), testActor(), org.ID, store.PlanStarter, store.CycleMonthly)
	if !IsConflict(err) {
		t.Fatalf("expected ConflictError for no-op change, got %v", err)
	}
}

func TestChangePlan_CancelledSubscriptionConflict(t *testing.T) {
	e := newTestEnv()
	org := e.addOrg(store.PlanStarter, store.CycleMonthly, 10, "cus_1", "sub_1")
	e.provider.Subscriptions["sub_1"].Status = SubStatusCanceled

	_, err := e.svc.ChangePlan(context.Background(), testActor(), org.ID, store.PlanProfessional, "")
	if !IsConflict(err) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

// For every ordered pair of distinct tiers, immediate proration applies
// iff the target outranks the current plan.
func TestChangePlan_ProrationMatrix(t *testing.T) {
	plans := []store.Plan{store.PlanStarter, store.PlanProfessional, store.PlanEnterprise}
	for _, from := range plans {
		for _, to := range plans {
			if from == to {
				continue
			}
			t.Run(string(from)+"_to_"+string(to), func(t *testing.T) {
				e := newTestEnv()
				org := e.addOrg(from, store.CycleMonthly, 10, "cus_1", "sub_1")

				result, err := e.svc.ChangePlan(context.Background(), testActor(), org.ID, to, "")
				if err != nil {
					t.Fatalf("ChangePlan: %v", err)
				}

				wantUpgrade := to.Level() > from.Level()
				if result.Upgraded != wantUpgrade {
					t.Errorf("Upgraded = %v, want %v", result.Upgraded, wantUpgrade)
				}
				if result.ProrationApplied != wantUpgrade {
					t.Errorf("ProrationApplied = %v, want %v", result.ProrationApplied, wantUpgrade)
				}

				var upd *ProviderCall
				for i := range e.provider.Calls {
					if e.provider.Calls[i].Op == "update_subscription" {
						upd = &e.provider.Calls[i]
					}
				}
				if upd == nil {
					t.Fatal("no update_subscription call recorded")
				}
				wantBehavior := ProrationNone
				if wantUpgrade {
					wantBehavior = ProrationCreate
				}
				if upd.Update.ProrationBehavior != wantBehavior {
					t.Errorf("ProrationBehavior = %q, want %q", upd.Update.ProrationBehavior, wantBehavior)
				}
			})
		}
	}
}

func TestChangePlan_CycleOnlyChangeIsDowngrade(t *testing.T) {
	e := newTestEnv()
	org := e.addOrg(store.PlanProfessional, store.CycleMonthly, 10, "cus_1", "sub_1")

	result, err := e.svc.ChangePlan(context.Background(), testActor(), org.ID, store.PlanProfessional, store.CycleAnnual)
	if err != nil {
		t.Fatalf("ChangePlan: %v", err)
	}
	if result.Upgraded || result.ProrationApplied {
		t.Error("cycle-only change must not apply immediate proration")
	}

	e.auditLog.Close()
	events := e.events.All()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].EventType != store.EventPlanDowngraded {
		t.Errorf("EventType = %q, want %q", events[0].EventType, store.EventPlanDowngraded)
	}
}

// Scenario: starter with 30 children at $2/unit and a $50 minimum pays
// $60/month; moving to professional ($3/unit, $100 minimum) is an
// upgrade billed immediately at max(90, 100) = $100.
func TestChangePlan_UpgradeScenario(t *testing.T) {
	e := newTestEnv()
	org := e.addOrg(store.PlanStarter, store.CycleMonthly, 30, "cus_1", "sub_1")

	monthly, err := DefaultPriceTable.MonthlyPriceCents(store.PlanStarter, 30)
	if err != nil {
		t.Fatalf("MonthlyPriceCents: %v", err)
	}
	if monthly != 6_000 {
		t.Fatalf("starter price = %d, want 6000", monthly)
	}

	result, err := e.svc.ChangePlan(context.Background(), testActor(), org.ID, store.PlanProfessional, "")
	if err != nil {
		t.Fatalf("ChangePlan: %v", err)
	}
	if !result.Upgraded || !result.ProrationApplied {
		t.Error("expected an upgrade with immediate proration")
	}
	if result.AmountCents != 10_000 {
		t.Errorf("AmountCents = %d, want 10000", result.AmountCents)
	}

	got, _ := e.orgs.Get(context.Background(), org.ID)
	if got.Plan != store.PlanProfessional {
		t.Errorf("stored plan = %q, want professional", got.Plan)
	}
	limits := LimitsFor(store.PlanProfessional)
	if got.MaxChildren != limits.MaxChildren || got.MaxStaff != limits.MaxStaff {
		t.Errorf("limits not applied: got %d/%d, want %d/%d",
			got.MaxChildren, got.MaxStaff, limits.MaxChildren, limits.MaxStaff)
	}

	e.auditLog.Close()
	events := e.events.All()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.EventType != store.EventPlanUpgraded {
		t.Errorf("EventType = %q, want %q", ev.EventType, store.EventPlanUpgraded)
	}
	if ev.Proration != store.ProrationImmediate {
		t.Errorf("Proration = %q, want %q", ev.Proration, store.ProrationImmediate)
	}
	if ev.PreviousPlan != store.PlanStarter || ev.NewPlan != store.PlanProfessional {
		t.Errorf("plan snapshot = %q -> %q", ev.PreviousPlan, ev.NewPlan)
	}
}

// Scenario: enterprise downgrading to starter keeps the local plan
// current immediately while the price change waits for the next period.
func TestChangePlan_DowngradeScenario(t *testing.T) {
	e := newTestEnv()
	org := e.addOrg(store.PlanEnterprise, store.CycleMonthly, 30, "cus_1", "sub_1")

	result, err := e.svc.ChangePlan(context.Background(), testActor(), org.ID, store.PlanStarter, "")
	if err != nil {
		t.Fatalf("ChangePlan: %v", err)
	}
	if result.Upgraded || result.ProrationApplied {
		t.Error("downgrade must not apply immediate proration")
	}

	got, _ := e.orgs.Get(context.Background(), org.ID)
	if got.Plan != store.PlanStarter {
		t.Errorf("stored plan = %q, want starter (updates immediately)", got.Plan)
	}

	e.auditLog.Close()
	events := e.events.All()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].EventType != store.EventPlanDowngraded {
		t.Errorf("EventType = %q, want %q", events[0].EventType, store.EventPlanDowngraded)
	}
	if events[0].Proration != store.ProrationNextPeriod {
		t.Errorf("Proration = %q, want %q", events[0].Proration, store.ProrationNextPeriod)
	}
}

func TestChangePlan_ProcessorErrorPassesThrough(t *testing.T) {
	e := newTestEnv()
	org := e.addOrg(store.PlanStarter, store.CycleMonthly, 10, "cus_1", "sub_1")
	e.provider.UpdateErr = &ProcessorError{Code: "card_declined", StatusCode: 402, Message: "Your card was declined."}

	_, err := e.svc.ChangePlan(context.Background(), testActor(), org.ID, store.PlanProfessional, "")
	pe, ok := AsProcessorError(err)
	if !ok {
		t.Fatalf("expected ProcessorError, got %v", err)
	}
	if pe.Code != "card_declined" || pe.StatusCode != 402 {
		t.Errorf("processor error not passed through: %+v", pe)
	}

	// No local mutation without an explicit provider success.
	got, _ := e.orgs.Get(context.Background(), org.ID)
	if got.Plan != store.PlanStarter {
		t.Errorf("plan mutated after a failed external call: %q", got.Plan)
	}
	if len(e.events.All()) != 0 {
		t.Error("event appended after a failed external call")
	}
}

// failingOrgStore makes UpdateBilling fail after setup, simulating a
// local write failure once the processor has already accepted the change.
type failingOrgStore struct {
	*store.MemoryOrganizationStore
	fail bool
}

func (s *failingOrgStore) UpdateBilling(ctx context.Context, id uuid.UUID, u store.OrganizationBillingUpdate) error {
	if s.fail {
		return errors.New("connection reset")
	}
	return s.MemoryOrganizationStore.UpdateBilling(ctx, id, u)
}

func TestChangePlan_LocalFailureIsReconciliationGap(t *testing.T) {
	e := newTestEnv()
	org := e.addOrg(store.PlanStarter, store.CycleMonthly, 10, "cus_1", "sub_1")

	failing := &failingOrgStore{MemoryOrganizationStore: e.orgs, fail: true}
	svc := NewService(e.provider, failing, e.events, e.auditLog, nil, URLConfig{})
	svc.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	result, err := svc.ChangePlan(context.Background(), testActor(), org.ID, store.PlanProfessional, "")
	if err != nil {
		t.Fatalf("the billing action succeeded externally; caller must not see a failure: %v", err)
	}
	if result.Plan != store.PlanProfessional {
		t.Errorf("result plan = %q, want professional", result.Plan)
	}

	e.auditLog.Close()
	var gap *store.AuditEntry
	for _, entry := range e.auditDB.Entries() {
		if entry.Action == audit.ActionReconciliationGap {
			gap = entry
		}
	}
	if gap == nil {
		t.Fatal("expected a reconciliation gap audit entry")
	}
	if gap.Severity != audit.SeverityCritical {
		t.Errorf("gap severity = %q, want critical", gap.Severity)
	}
}

func TestChangeIdempotencyKey_BucketsDoubleSubmits(t *testing.T) {
	e := newTestEnv()
	orgID := uuid.New()

	base := time.Unix(1_700_000_000, 0)
	e.svc.now = func() time.Time { return base }
	k1 := e.svc.changeIdempotencyKey(orgID, store.PlanProfessional, store.CycleMonthly)

	e.svc.now = func() time.Time { return base.Add(30 * time.Second) }
	k2 := e.svc.changeIdempotencyKey(orgID, store.PlanProfessional, store.CycleMonthly)
	if k1 != k2 {
		t.Errorf("rapid double-submit produced different keys: %q vs %q", k1, k2)
	}

	e.svc.now = func() time.Time { return base.Add(10 * time.Minute) }
	k3 := e.svc.changeIdempotencyKey(orgID, store.PlanProfessional, store.CycleMonthly)
	if k1 == k3 {
		t.Error("a later repeat of the change must get a fresh key")
	}

	k4 := e.svc.changeIdempotencyKey(orgID, store.PlanEnterprise, store.CycleMonthly)
	if k3 == k4 {
		t.Error("different targets must get different keys")
	}
}

// ---------------------------------------------------------------------------
// OpenPortal
// ---------------------------------------------------------------------------

func TestOpenPortal_RequiresCustomer(t *testing.T) {
	e := newTestEnv()
	org := e.addOrg(store.PlanTrial, store.CycleMonthly, 5, "", "")

	_, err := e.svc.OpenPortal(context.Background(), testActor(), org.ID)
	if !IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if n := e.provider.CallCount(); n != 0 {
		t.Errorf("expected zero provider calls, got %d", n)
	}
}

func TestOpenPortal_ReturnsRedirectURL(t *testing.T) {
	e := newTestEnv()
	org := e.addOrg(store.PlanStarter, store.CycleMonthly, 5, "cus_9", "sub_9")

	url, err := e.svc.OpenPortal(context.Background(), testActor(), org.ID)
	if err != nil {
		t.Fatalf("OpenPortal: %v", err)
	}
	if url == "" {
		t.Error("expected a portal URL")
	}
}
