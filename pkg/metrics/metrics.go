package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "shop", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "shop", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	// TokensIssued counts minted tokens by kind (access|refresh).
	TokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "shop", Subsystem: "auth", Name: "tokens_issued_total", Help: "Number of issued tokens by kind."},
		[]string{"kind"},
	)
	// RefreshRotations counts rotation outcomes (rotated|unknown|revoked|expired|storage|error).
	RefreshRotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "shop", Subsystem: "auth", Name: "refresh_rotations_total", Help: "Refresh token rotation attempts by result."},
		[]string{"result"},
	)
	RefreshReuseDetected = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "shop", Subsystem: "auth", Name: "refresh_reuse_detected_total", Help: "Presentations of an already revoked refresh token."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(TokensIssued)
	reg.MustRegister(RefreshRotations)
	reg.MustRegister(RefreshReuseDetected)
}
