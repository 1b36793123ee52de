package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nidohq/nido/access"
	"github.com/nidohq/nido/audit"
	"github.com/nidohq/nido/billing"
	"github.com/nidohq/nido/ratelimit"
	"github.com/nidohq/nido/store"
)

// Config holds configuration for the API layer.
type Config struct {
	JWTSecret string
	Prices    billing.PriceTable
	Presets   map[ratelimit.RouteClass]ratelimit.Preset
}

// Stores groups the store interfaces needed by the API.
type Stores struct {
	Users         store.UserStore
	Organizations store.OrganizationStore
	Events        store.SubscriptionEventStore
}

// NewRouter creates an http.Handler with all billing routes registered.
func NewRouter(stores Stores, svc *billing.Service, auditLog *audit.Logger, counters ratelimit.CounterStore, cfg Config) http.Handler {
	mux := http.NewServeMux()

	limiter := ratelimit.New(counters, cfg.Presets, nil)
	mw := NewMiddleware([]byte(cfg.JWTSecret), stores.Users, stores.Organizations, limiter)
	h := NewBillingHandler(svc, stores.Events, cfg.Prices, auditLog)

	gate := access.NewGate(func(r *http.Request) *store.Organization {
		return OrgFromContext(r.Context())
	}, realIP, auditLog)

	public := mw.RateLimit(ratelimit.ClassPublic)
	authed := func(next http.Handler) http.Handler {
		return mw.RateLimit(ratelimit.ClassAuthenticated)(mw.RequireAuth(next))
	}
	billingRoute := func(next http.Handler) http.Handler {
		return mw.RateLimit(ratelimit.ClassBilling)(mw.RequireAuth(mw.RequireBillingRole("id")(next)))
	}

	mux.Handle("GET /healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /api/v1/billing/plans", public(http.HandlerFunc(h.ListPlans)))
	mux.Handle("POST /api/v1/orgs/{id}/billing/subscribe", billingRoute(http.HandlerFunc(h.Subscribe)))
	mux.Handle("POST /api/v1/orgs/{id}/billing/change", billingRoute(http.HandlerFunc(h.ChangePlan)))
	mux.Handle("POST /api/v1/orgs/{id}/billing/portal", billingRoute(http.HandlerFunc(h.OpenPortal)))
	// Plan gating runs after the org is resolved into context, so the
	// check sees the organization the role middleware loaded.
	mux.Handle("GET /api/v1/orgs/{id}/billing/events",
		authed(mw.RequireBillingRole("id")(gate.Require(access.FeatureBillingHistory)(http.HandlerFunc(h.ListEvents)))))

	return mux
}
