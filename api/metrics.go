package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nido",
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Rate limiter decisions by route class and outcome.",
	}, []string{"class", "outcome"})

	billingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nido",
		Subsystem: "billing",
		Name:      "requests_total",
		Help:      "Billing API requests by operation and outcome.",
	}, []string{"operation", "outcome"})
)
