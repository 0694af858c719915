package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the Prometheus collectors for the credential subsystem.
type Metrics struct {
	LoginAttempts   *prometheus.CounterVec
	TokenRotations  *prometheus.CounterVec
	ReuseDetections prometheus.Counter
	ResetRequests   *prometheus.CounterVec
	TokensPruned    prometheus.Counter
}

// NewMetrics registers and returns the subsystem metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		LoginAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome",
		}, []string{"outcome"}),
		TokenRotations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "refresh_rotations_total",
			Help:      "Refresh token rotations by outcome",
		}, []string{"outcome"}),
		ReuseDetections: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "token_reuse_detections_total",
			Help:      "Refresh token reuse detections escalated to family revocation",
		}),
		ResetRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "password_reset_requests_total",
			Help:      "Password reset requests and redemptions by outcome",
		}, []string{"outcome"}),
		TokensPruned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "tokens_pruned_total",
			Help:      "Expired token records removed by the pruner",
		}),
	}
}
