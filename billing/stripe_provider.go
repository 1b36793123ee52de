package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
)

// StripeProvider implements PaymentProvider using the Stripe API.
// Prices are created ad hoc with price_data against a single configured
// product, because the charged amount is computed server-side from the
// organization's unit count rather than picked from a fixed price list.
type StripeProvider struct {
	apiKey    string
	productID string
	currency  string
}

// NewStripeProvider creates a StripeProvider with the given API key and
// the Stripe product ID subscription prices attach to.
func NewStripeProvider(apiKey, productID string) *StripeProvider {
	stripe.Key = apiKey
	return &StripeProvider{
		apiKey:    apiKey,
		productID: productID,
		currency:  string(stripe.CurrencyUSD),
	}
}

// CreateCustomer creates a Stripe customer tagged with the organization id.
func (p *StripeProvider) CreateCustomer(_ context.Context, cp CreateCustomerParams) (string, error) {
	params := &stripe.CustomerParams{
		Name: stripe.String(cp.Name),
		Metadata: map[string]string{
			"organization_id": cp.OrganizationID,
		},
	}
	if cp.Email != "" {
		params.Email = stripe.String(cp.Email)
	}
	if cp.IdempotencyKey != "" {
		params.SetIdempotencyKey(cp.IdempotencyKey)
	}
	c, err := customer.New(params)
	if err != nil {
		return "", wrapStripeErr("create customer", err)
	}
	return c.ID, nil
}

// CreateCheckoutSession opens a subscription-mode checkout session priced
// at the exact server-computed amount. The organization, plan, cycle and
// unit count ride along as metadata for webhook reconciliation.
func (p *StripeProvider) CreateCheckoutSession(_ context.Context, cp CheckoutParams) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(cp.CustomerID),
		SuccessURL: stripe.String(cp.SuccessURL),
		CancelURL:  stripe.String(cp.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(p.currency),
					UnitAmount: stripe.Int64(cp.AmountCents),
					Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
						Interval: stripe.String(intervalFor(cp.Cycle)),
					},
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(cp.ProductName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: checkoutMetadata(cp),
		},
	}
	for k, v := range checkoutMetadata(cp) {
		params.AddMetadata(k, v)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, wrapStripeErr("create checkout session", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// GetSubscription retrieves the subscription and flattens the fields the
// orchestrator needs.
func (p *StripeProvider) GetSubscription(_ context.Context, subscriptionID string) (*ProviderSubscription, error) {
	sub, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, wrapStripeErr("get subscription", err)
	}
	return flattenSubscription(sub), nil
}

// UpdateSubscription replaces the subscription's single price in place
// with the given amount and proration behavior.
func (p *StripeProvider) UpdateSubscription(_ context.Context, subscriptionID string, up UpdateSubscriptionParams) (*ProviderSubscription, error) {
	cur, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, wrapStripeErr("get subscription for update", err)
	}
	if len(cur.Items.Data) == 0 {
		return nil, fmt.Errorf("billing: subscription %s has no items", subscriptionID)
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID: stripe.String(cur.Items.Data[0].ID),
				PriceData: &stripe.SubscriptionItemPriceDataParams{
					Currency:   stripe.String(p.currency),
					Product:    stripe.String(p.productID),
					UnitAmount: stripe.Int64(up.AmountCents),
					Recurring: &stripe.SubscriptionItemPriceDataRecurringParams{
						Interval: stripe.String(up.Interval),
					},
				},
			},
		},
		ProrationBehavior: stripe.String(up.ProrationBehavior),
	}
	if up.IdempotencyKey != "" {
		params.SetIdempotencyKey(up.IdempotencyKey)
	}

	sub, err := subscription.Update(subscriptionID, params)
	if err != nil {
		return nil, wrapStripeErr("update subscription", err)
	}
	return flattenSubscription(sub), nil
}

// CreatePortalSession opens a self-service billing portal session.
func (p *StripeProvider) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	sess, err := portalsession.New(params)
	if err != nil {
		return "", wrapStripeErr("create portal session", err)
	}
	return sess.URL, nil
}

func checkoutMetadata(cp CheckoutParams) map[string]string {
	return map[string]string{
		"organization_id": cp.OrganizationID,
		"plan":            cp.Plan,
		"billing_cycle":   cp.Cycle,
		"unit_count":      strconv.Itoa(cp.UnitCount),
	}
}

func flattenSubscription(sub *stripe.Subscription) *ProviderSubscription {
	out := &ProviderSubscription{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.ItemID = item.ID
		out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
	}
	return out
}

func intervalFor(cycle string) string {
	if cycle == "annual" {
		return "year"
	}
	return "month"
}

// wrapStripeErr converts Stripe API failures into ProcessorError so the
// upstream message and status survive to the caller; anything else is
// wrapped as an ordinary error.
func wrapStripeErr(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return &ProcessorError{
			Code:       string(se.Code),
			StatusCode: se.HTTPStatusCode,
			Message:    se.Msg,
		}
	}
	return fmt.Errorf("billing: %s: %w", op, err)
}
