package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GateDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "learnhub_gate_decisions_total",
		Help: "Request gate decisions by route class and outcome.",
	}, []string{"class", "outcome"})

	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "learnhub_session_resolutions_total",
		Help: "Server-side session resolutions by result.",
	}, []string{"result"})

	ProviderCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "learnhub_provider_call_duration_seconds",
		Help:    "Latency of session provider calls.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"provider", "op"})

	ExchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "learnhub_credential_exchanges_total",
		Help: "Credential exchange endpoint calls by operation and result.",
	}, []string{"op", "result"})

	UsersTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "learnhub_users_total",
		Help: "Total number of registered users in the database.",
	})
)
