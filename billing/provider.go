package billing

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PaymentProvider abstracts the payment processor behind the five
// operations the orchestrator needs. Implementations never leak SDK
// types across this boundary, so orchestrator tests can substitute a
// fake without depending on the real network client.
type PaymentProvider interface {
	// CreateCustomer registers a billing customer for the organization.
	CreateCustomer(ctx context.Context, p CreateCustomerParams) (customerID string, err error)
	// CreateCheckoutSession opens a hosted checkout for a new subscription
	// and returns its redirect URL.
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error)
	// GetSubscription retrieves the authoritative subscription state.
	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
	// UpdateSubscription replaces the subscription's price in place.
	UpdateSubscription(ctx context.Context, subscriptionID string, p UpdateSubscriptionParams) (*ProviderSubscription, error)
	// CreatePortalSession opens a self-service billing portal session and
	// returns its redirect URL.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (url string, err error)
}

// CreateCustomerParams holds inputs for customer creation.
type CreateCustomerParams struct {
	OrganizationID string
	Name           string
	Email          string
	// IdempotencyKey is stable per organization so a retried first
	// checkout does not create duplicate customers.
	IdempotencyKey string
}

// CheckoutParams holds inputs for checkout session creation. The amount
// is always computed server-side; there is no client-supplied price.
type CheckoutParams struct {
	CustomerID     string
	OrganizationID string
	Plan           string
	Cycle          string
	UnitCount      int
	AmountCents    int64
	ProductName    string
	SuccessURL     string
	CancelURL      string
}

// CheckoutSession is a created hosted checkout session.
type CheckoutSession struct {
	ID  string
	URL string
}

// Subscription status values mirrored from the processor.
const (
	SubStatusActive            = "active"
	SubStatusTrialing          = "trialing"
	SubStatusPastDue           = "past_due"
	SubStatusCanceled          = "canceled"
	SubStatusIncompleteExpired = "incomplete_expired"
)

// ProviderSubscription is the processor's view of a subscription.
type ProviderSubscription struct {
	ID               string
	CustomerID       string
	Status           string
	ItemID           string
	CurrentPeriodEnd time.Time
}

// Terminal reports whether the subscription can no longer be changed and
// the organization must start a fresh checkout.
func (s *ProviderSubscription) Terminal() bool {
	return s.Status == SubStatusCanceled || s.Status == SubStatusIncompleteExpired
}

// Proration behavior values for subscription updates.
const (
	ProrationCreate = "create_prorations"
	ProrationNone   = "none"
)

// UpdateSubscriptionParams holds inputs for a price-replacing
// subscription update.
type UpdateSubscriptionParams struct {
	AmountCents       int64
	Interval          string // "month" or "year"
	ProductName       string
	ProrationBehavior string
	IdempotencyKey    string
}

// ---------- Mock implementation ----------

// ProviderCall records one invocation on the mock provider.
type ProviderCall struct {
	Op     string
	SubID  string
	Update UpdateSubscriptionParams
}

// MockPaymentProvider is a test double that records calls and returns
// configurable results.
type MockPaymentProvider struct {
	mu sync.Mutex

	Calls []ProviderCall

	// Subscriptions maps subscriptionID -> state returned by Get/Update.
	Subscriptions map[string]*ProviderSubscription

	// Error fields allow tests to inject failures.
	CreateCustomerErr  error
	CreateCheckoutErr  error
	GetSubscriptionErr error
	UpdateErr          error
	PortalErr          error

	nextCustomerSeq int
	nextSessionSeq  int
}

// NewMockPaymentProvider creates a MockPaymentProvider ready for use.
func NewMockPaymentProvider() *MockPaymentProvider {
	return &MockPaymentProvider{
		Subscriptions: make(map[string]*ProviderSubscription),
	}
}

// CallCount returns how many provider operations were invoked.
func (m *MockPaymentProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

func (m *MockPaymentProvider) record(c ProviderCall) {
	m.Calls = append(m.Calls, c)
}

func (m *MockPaymentProvider) CreateCustomer(_ context.Context, _ CreateCustomerParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(ProviderCall{Op: "create_customer"})
	if m.CreateCustomerErr != nil {
		return "", m.CreateCustomerErr
	}
	m.nextCustomerSeq++
	return fmt.Sprintf("cus_mock_%d", m.nextCustomerSeq), nil
}

func (m *MockPaymentProvider) CreateCheckoutSession(_ context.Context, _ CheckoutParams) (*CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(ProviderCall{Op: "create_checkout"})
	if m.CreateCheckoutErr != nil {
		return nil, m.CreateCheckoutErr
	}
	m.nextSessionSeq++
	id := fmt.Sprintf("cs_mock_%d", m.nextSessionSeq)
	return &CheckoutSession{ID: id, URL: "https://checkout.example.com/" + id}, nil
}

func (m *MockPaymentProvider) GetSubscription(_ context.Context, subscriptionID string) (*ProviderSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(ProviderCall{Op: "get_subscription", SubID: subscriptionID})
	if m.GetSubscriptionErr != nil {
		return nil, m.GetSubscriptionErr
	}
	sub, ok := m.Subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("billing: subscription %s not found", subscriptionID)
	}
	cp := *sub
	return &cp, nil
}

func (m *MockPaymentProvider) UpdateSubscription(_ context.Context, subscriptionID string, p UpdateSubscriptionParams) (*ProviderSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(ProviderCall{Op: "update_subscription", SubID: subscriptionID, Update: p})
	if m.UpdateErr != nil {
		return nil, m.UpdateErr
	}
	sub, ok := m.Subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("billing: subscription %s not found", subscriptionID)
	}
	cp := *sub
	return &cp, nil
}

func (m *MockPaymentProvider) CreatePortalSession(_ context.Context, customerID, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(ProviderCall{Op: "create_portal"})
	if m.PortalErr != nil {
		return "", m.PortalErr
	}
	return "https://portal.example.com/" + customerID, nil
}
