package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "entitlement"

var (
	// Registrations counts device registrations by result (created|existing).
	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registrations_total",
		Help:      "Device registrations by result.",
	}, []string{"result"})

	// StatusChecks counts status queries by returned reason.
	StatusChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_checks_total",
		Help:      "Device status checks by reason.",
	}, []string{"reason"})

	// Redemptions counts license key redemptions by outcome (ok or the error code).
	Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "redemptions_total",
		Help:      "License key redemptions by outcome.",
	}, []string{"outcome"})

	KeysGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "license_keys_generated_total",
		Help:      "License keys successfully generated.",
	})

	KeyGenerationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "license_key_generation_failures_total",
		Help:      "License keys skipped after exhausting the code retry budget.",
	})

	KeyRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "key_requests_total",
		Help:      "Extension requests raised by devices.",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
