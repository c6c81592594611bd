package csrfguard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultPassed        = "passed"
	resultSkippedSafe   = "skipped_safe"
	resultSkippedPublic = "skipped_public"
)

var (
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csrfguard_decisions_total",
			Help: "CSRF guard decisions by strategy and result",
		},
		[]string{"strategy", "result"},
	)

	tokensIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csrfguard_tokens_issued_total",
			Help: "CSRF tokens handed out by the issuance endpoint",
		},
		[]string{"strategy"},
	)

	rotationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csrfguard_session_rotations_total",
			Help: "Session-bound CSRF token rotations by outcome",
		},
		[]string{"result"},
	)
)
