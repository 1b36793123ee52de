package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nidohq/nido/audit"
	"github.com/nidohq/nido/store"
)

// URLConfig holds the redirect URLs baked into checkout and portal
// sessions.
type URLConfig struct {
	CheckoutSuccessURL string `yaml:"checkout_success_url" json:"checkout_success_url"`
	CheckoutCancelURL  string `yaml:"checkout_cancel_url" json:"checkout_cancel_url"`
	PortalReturnURL    string `yaml:"portal_return_url" json:"portal_return_url"`
}

// idempotencyBucket is the coarse time window inside which a repeated
// ChangePlan call maps to the same idempotency key. Wide enough to dedupe
// a double-submit, narrow enough that a genuine later repeat of the same
// change is a fresh request.
const idempotencyBucket = 5 * time.Minute

// callTimeout bounds each payment processor call. A timeout is never
// treated as success: the local row is only mutated after an explicit
// success response.
const callTimeout = 30 * time.Second

// Service orchestrates subscription lifecycle operations against the
// payment processor and writes the authoritative result back to the
// organization record.
type Service struct {
	provider PaymentProvider
	orgs     store.OrganizationStore
	events   store.SubscriptionEventStore
	audit    *audit.Logger
	prices   PriceTable
	urls     URLConfig
	now      func() time.Time
}

// NewService creates a Service. A nil prices table falls back to
// DefaultPriceTable.
func NewService(provider PaymentProvider, orgs store.OrganizationStore, events store.SubscriptionEventStore, auditLog *audit.Logger, prices PriceTable, urls URLConfig) *Service {
	if prices == nil {
		prices = DefaultPriceTable
	}
	return &Service{
		provider: provider,
		orgs:     orgs,
		events:   events,
		audit:    auditLog,
		prices:   prices,
		urls:     urls,
		now:      time.Now,
	}
}

// CheckoutResult is returned by StartCheckout.
type CheckoutResult struct {
	SessionID   string `json:"session_id"`
	URL         string `json:"url"`
	AmountCents int64  `json:"amount_cents"`
	UnitCount   int    `json:"unit_count"`
}

// PlanChangeResult is returned by ChangePlan with everything the caller
// needs to render the outcome without a second round trip.
type PlanChangeResult struct {
	Plan             store.Plan         `json:"plan"`
	BillingCycle     store.BillingCycle `json:"billing_cycle"`
	Upgraded         bool               `json:"upgraded"`
	ProrationApplied bool               `json:"proration_applied"`
	AmountCents      int64              `json:"amount_cents"`
	UnitCount        int                `json:"unit_count"`
	SubscriptionID   string             `json:"subscription_id"`
}

// StartCheckout creates a hosted checkout session for an organization
// with no existing subscription. The price is computed server-side from
// the current enrolled-children count; no amount is accepted from the
// caller.
func (s *Service) StartCheckout(ctx context.Context, actor audit.Actor, orgID uuid.UUID, plan store.Plan, cycle store.BillingCycle) (*CheckoutResult, error) {
	if !PayablePlans[plan] {
		return nil, validationf("plan %q cannot be subscribed to", plan)
	}
	if !store.ValidCycles[cycle] {
		return nil, validationf("unknown billing cycle %q", cycle)
	}

	org, err := s.orgs.Get(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("load organization: %w", err)
	}
	if org.StripeSubscriptionID != nil {
		return nil, conflictf("organization already has a subscription; use plan change instead")
	}

	customerID, err := s.ensureCustomer(ctx, org)
	if err != nil {
		return nil, err
	}

	unitCount, err := s.orgs.CountBillableChildren(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("count billable units: %w", err)
	}
	amount, err := s.prices.PriceCents(plan, cycle, unitCount)
	if err != nil {
		return nil, validationf("%v", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	sess, err := s.provider.CreateCheckoutSession(callCtx, CheckoutParams{
		CustomerID:     customerID,
		OrganizationID: orgID.String(),
		Plan:           string(plan),
		Cycle:          string(cycle),
		UnitCount:      unitCount,
		AmountCents:    amount,
		ProductName:    productName(plan, cycle),
		SuccessURL:     s.urls.CheckoutSuccessURL,
		CancelURL:      s.urls.CheckoutCancelURL,
	})
	if err != nil {
		return nil, err
	}

	s.audit.CheckoutStarted(ctx, actor, orgID.String(), string(plan), string(cycle), amount, unitCount)

	return &CheckoutResult{
		SessionID:   sess.ID,
		URL:         sess.URL,
		AmountCents: amount,
		UnitCount:   unitCount,
	}, nil
}

// ChangePlan moves an existing subscription to a new plan and/or cycle.
// Upgrades bill the difference immediately with proration; downgrades
// and cycle-only changes take effect at the next period boundary with no
// proration, so no refund-like credit is ever generated.
func (s *Service) ChangePlan(ctx context.Context, actor audit.Actor, orgID uuid.UUID, targetPlan store.Plan, targetCycle store.BillingCycle) (*PlanChangeResult, error) {
	if !PayablePlans[targetPlan] {
		return nil, validationf("plan %q is not a valid change target", targetPlan)
	}

	org, err := s.orgs.Get(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("load organization: %w", err)
	}
	if org.StripeSubscriptionID == nil {
		return nil, conflictf("organization has no subscription; start a checkout instead")
	}

	if targetCycle == "" {
		targetCycle = org.BillingCycle
	}
	if !store.ValidCycles[targetCycle] {
		return nil, validationf("unknown billing cycle %q", targetCycle)
	}
	if targetPlan == org.Plan && targetCycle == org.BillingCycle {
		return nil, conflictf("organization is already on plan %q with %s billing", targetPlan, targetCycle)
	}

	subID := *org.StripeSubscriptionID

	getCtx, cancelGet := context.WithTimeout(ctx, callTimeout)
	defer cancelGet()
	sub, err := s.provider.GetSubscription(getCtx, subID)
	if err != nil {
		return nil, err
	}
	if sub.Terminal() {
		return nil, conflictf("subscription is cancelled; start a new checkout instead")
	}

	upgraded := targetPlan.Level() > org.Plan.Level()
	proration := ProrationNone
	if upgraded {
		proration = ProrationCreate
	}

	unitCount, err := s.orgs.CountBillableChildren(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("count billable units: %w", err)
	}
	amount, err := s.prices.PriceCents(targetPlan, targetCycle, unitCount)
	if err != nil {
		return nil, validationf("%v", err)
	}

	updCtx, cancelUpd := context.WithTimeout(ctx, callTimeout)
	defer cancelUpd()
	if _, err := s.provider.UpdateSubscription(updCtx, subID, UpdateSubscriptionParams{
		AmountCents:       amount,
		Interval:          intervalFor(string(targetCycle)),
		ProrationBehavior: proration,
		IdempotencyKey:    s.changeIdempotencyKey(orgID, targetPlan, targetCycle),
	}); err != nil {
		return nil, err
	}

	// The processor accepted the change. Local bookkeeping failures past
	// this point never surface as a failure of the billing action; they
	// are escalated for out-of-band reconciliation instead.
	s.recordPlanChange(ctx, actor, org, targetPlan, targetCycle, upgraded, amount, unitCount)

	return &PlanChangeResult{
		Plan:             targetPlan,
		BillingCycle:     targetCycle,
		Upgraded:         upgraded,
		ProrationApplied: upgraded,
		AmountCents:      amount,
		UnitCount:        unitCount,
		SubscriptionID:   subID,
	}, nil
}

// OpenPortal creates a self-service billing portal session for an
// organization that already has billing history.
func (s *Service) OpenPortal(ctx context.Context, actor audit.Actor, orgID uuid.UUID) (string, error) {
	org, err := s.orgs.Get(ctx, orgID)
	if err != nil {
		return "", fmt.Errorf("load organization: %w", err)
	}
	if org.StripeCustomerID == nil {
		return "", validationf("organization has no billing account yet; subscribe first")
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	url, err := s.provider.CreatePortalSession(callCtx, *org.StripeCustomerID, s.urls.PortalReturnURL)
	if err != nil {
		return "", err
	}

	s.audit.PortalOpened(ctx, actor, orgID.String())
	return url, nil
}

// ensureCustomer returns the organization's processor customer id,
// creating one lazily on first checkout. The returned id is persisted
// before any session is created so a retry cannot mint a duplicate
// customer; the creation call itself is keyed on the organization id for
// the same reason.
func (s *Service) ensureCustomer(ctx context.Context, org *store.Organization) (string, error) {
	if org.StripeCustomerID != nil {
		return *org.StripeCustomerID, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	customerID, err := s.provider.CreateCustomer(callCtx, CreateCustomerParams{
		OrganizationID: org.ID.String(),
		Name:           org.Name,
		IdempotencyKey: "customer-create-" + org.ID.String(),
	})
	if err != nil {
		return "", err
	}

	if err := s.orgs.UpdateBilling(ctx, org.ID, store.OrganizationBillingUpdate{
		StripeCustomerID: &customerID,
	}); err != nil {
		return "", fmt.Errorf("persist customer id: %w", err)
	}
	org.StripeCustomerID = &customerID
	return customerID, nil
}

// recordPlanChange applies the accepted change to the organization row,
// appends the subscription event and writes the audit entry. Failures
// are escalated as a critical reconciliation gap and swallowed.
func (s *Service) recordPlanChange(ctx context.Context, actor audit.Actor, org *store.Organization, targetPlan store.Plan, targetCycle store.BillingCycle, upgraded bool, amount int64, unitCount int) {
	subID := *org.StripeSubscriptionID
	limits := LimitsFor(targetPlan)
	prorationLabel := store.ProrationNextPeriod
	eventType := store.EventPlanDowngraded
	if upgraded {
		prorationLabel = store.ProrationImmediate
		eventType = store.EventPlanUpgraded
	}

	gap := func(cause error) {
		s.audit.ReconciliationGap(ctx, actor, org.ID.String(), subID, cause, map[string]any{
			"target_plan":  string(targetPlan),
			"target_cycle": string(targetCycle),
		})
	}

	if err := s.orgs.UpdateBilling(ctx, org.ID, store.OrganizationBillingUpdate{
		Plan:         &targetPlan,
		BillingCycle: &targetCycle,
		MaxChildren:  &limits.MaxChildren,
		MaxStaff:     &limits.MaxStaff,
	}); err != nil {
		gap(fmt.Errorf("update organization: %w", err))
		return
	}

	if err := s.events.Append(ctx, &store.SubscriptionEvent{
		SubscriptionID:  subID,
		OrganizationID:  org.ID,
		EventType:       eventType,
		PreviousPlan:    org.Plan,
		NewPlan:         targetPlan,
		BillingCycle:    targetCycle,
		Proration:       prorationLabel,
		UnitAmountCents: amount,
		UnitCount:       unitCount,
	}); err != nil {
		gap(fmt.Errorf("append subscription event: %w", err))
		return
	}

	s.audit.PlanChanged(ctx, actor, org.ID.String(), string(org.Plan), string(targetPlan), string(targetCycle), prorationLabel, amount)
}

// changeIdempotencyKey dedupes rapid double-submits of the same change
// while letting a genuine later repeat through once the time bucket
// rolls over.
func (s *Service) changeIdempotencyKey(orgID uuid.UUID, plan store.Plan, cycle store.BillingCycle) string {
	bucket := s.now().Unix() / int64(idempotencyBucket/time.Second)
	return fmt.Sprintf("plan-change-%s-%s-%s-%d", orgID, plan, cycle, bucket)
}

func productName(plan store.Plan, cycle store.BillingCycle) string {
	return fmt.Sprintf("Nido %s (%s)", plan, cycle)
}
