package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nidohq/nido/audit"
	"github.com/nidohq/nido/billing"
	"github.com/nidohq/nido/store"
)

// BillingHandler exposes the subscription lifecycle over HTTP. None of
// its routes accept a client-supplied monetary amount; prices are always
// computed server-side.
type BillingHandler struct {
	svc    *billing.Service
	events store.SubscriptionEventStore
	prices billing.PriceTable
	audit  *audit.Logger
}

// NewBillingHandler creates a BillingHandler.
func NewBillingHandler(svc *billing.Service, events store.SubscriptionEventStore, prices billing.PriceTable, auditLog *audit.Logger) *BillingHandler {
	if prices == nil {
		prices = billing.DefaultPriceTable
	}
	return &BillingHandler{svc: svc, events: events, prices: prices, audit: auditLog}
}

// ---------- GET /api/v1/billing/plans ----------

type planInfo struct {
	Plan    store.Plan         `json:"plan"`
	Limits  billing.PlanLimits `json:"limits"`
	Monthly billing.Rate       `json:"monthly"`
	Annual  billing.Rate       `json:"annual"`
}

// ListPlans returns the purchasable plans with their rates and limits.
func (h *BillingHandler) ListPlans(w http.ResponseWriter, _ *http.Request) {
	plans := []store.Plan{store.PlanStarter, store.PlanProfessional, store.PlanEnterprise}
	out := make([]planInfo, 0, len(plans))
	for _, p := range plans {
		monthly, _ := h.prices.Rate(p, store.CycleMonthly)
		annual, _ := h.prices.Rate(p, store.CycleAnnual)
		out = append(out, planInfo{
			Plan:    p,
			Limits:  billing.LimitsFor(p),
			Monthly: monthly,
			Annual:  annual,
		})
	}
	WriteJSON(w, http.StatusOK, out)
}

// ---------- POST /api/v1/orgs/{id}/billing/subscribe ----------

type subscribeRequest struct {
	Plan         store.Plan         `json:"plan"`
	BillingCycle store.BillingCycle `json:"billing_cycle"`
}

// Subscribe starts a hosted checkout for an organization with no
// existing subscription.
func (h *BillingHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	org := OrgFromContext(r.Context())
	actor := h.actorFromRequest(r)

	var req subscribeRequest
	if !h.decodeBody(w, r, actor, &req) {
		return
	}
	if req.BillingCycle == "" {
		req.BillingCycle = store.CycleMonthly
	}

	result, err := h.svc.StartCheckout(r.Context(), actor, org.ID, req.Plan, req.BillingCycle)
	if err != nil {
		billingRequests.WithLabelValues("subscribe", "error").Inc()
		WriteBillingError(w, err)
		return
	}
	billingRequests.WithLabelValues("subscribe", "ok").Inc()
	WriteJSON(w, http.StatusCreated, result)
}

// ---------- POST /api/v1/orgs/{id}/billing/change ----------

type changePlanRequest struct {
	Plan         store.Plan         `json:"plan"`
	BillingCycle store.BillingCycle `json:"billing_cycle,omitempty"`
}

// ChangePlan upgrades or downgrades an existing subscription.
func (h *BillingHandler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	org := OrgFromContext(r.Context())
	actor := h.actorFromRequest(r)

	var req changePlanRequest
	if !h.decodeBody(w, r, actor, &req) {
		return
	}

	result, err := h.svc.ChangePlan(r.Context(), actor, org.ID, req.Plan, req.BillingCycle)
	if err != nil {
		billingRequests.WithLabelValues("change", "error").Inc()
		WriteBillingError(w, err)
		return
	}
	billingRequests.WithLabelValues("change", "ok").Inc()
	WriteJSON(w, http.StatusOK, result)
}

// ---------- POST /api/v1/orgs/{id}/billing/portal ----------

type portalResponse struct {
	URL string `json:"url"`
}

// OpenPortal opens a self-service billing portal session.
func (h *BillingHandler) OpenPortal(w http.ResponseWriter, r *http.Request) {
	org := OrgFromContext(r.Context())
	actor := h.actorFromRequest(r)

	url, err := h.svc.OpenPortal(r.Context(), actor, org.ID)
	if err != nil {
		billingRequests.WithLabelValues("portal", "error").Inc()
		WriteBillingError(w, err)
		return
	}
	billingRequests.WithLabelValues("portal", "ok").Inc()
	WriteJSON(w, http.StatusOK, portalResponse{URL: url})
}

// ---------- GET /api/v1/orgs/{id}/billing/events ----------

// ListEvents returns the organization's subscription change history.
func (h *BillingHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	org := OrgFromContext(r.Context())
	events, err := h.events.ListForOrganization(r.Context(), org.ID, 50)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	WriteJSON(w, http.StatusOK, events)
}

// ---------- helpers ----------

func (h *BillingHandler) actorFromRequest(r *http.Request) audit.Actor {
	actor := audit.Actor{IP: realIP(r), UserAgent: r.UserAgent()}
	if user := UserFromContext(r.Context()); user != nil {
		id := user.ID
		actor.ID = &id
		actor.Email = user.Email
	}
	return actor
}

// decodeBody decodes the JSON body into dst after checking the raw
// payload for client-supplied monetary amounts. A tampered request is
// rejected and recorded as a security alert: this surface never prices
// from the client.
func (h *BillingHandler) decodeBody(w http.ResponseWriter, r *http.Request, actor audit.Actor, dst any) bool {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if field := amountField(raw); field != "" {
		h.audit.SecurityAlert(r.Context(), actor, "client-supplied amount rejected", map[string]any{
			"field": field,
			"path":  r.URL.Path,
		})
		WriteError(w, http.StatusBadRequest, "monetary amounts are computed server-side")
		return false
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := json.Unmarshal(buf, dst); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// amountField returns the first key, at any nesting depth, that looks
// like a monetary amount.
func amountField(raw map[string]json.RawMessage) string {
	for k, v := range raw {
		if isAmountKey(k) {
			return k
		}
		var nested any
		if err := json.Unmarshal(v, &nested); err != nil {
			continue
		}
		if field := nestedAmountField(nested); field != "" {
			return field
		}
	}
	return ""
}

func nestedAmountField(v any) string {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if isAmountKey(k) {
				return k
			}
			if field := nestedAmountField(child); field != "" {
				return field
			}
		}
	case []any:
		for _, child := range t {
			if field := nestedAmountField(child); field != "" {
				return field
			}
		}
	}
	return ""
}

func isAmountKey(k string) bool {
	lk := strings.ToLower(k)
	return strings.Contains(lk, "amount") || strings.Contains(lk, "price")
}
