package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	StatusRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "clipcast", Name: "account_status_refreshes_total", Help: "Binding status refreshes against the backend, by result."},
		[]string{"result"},
	)
	BindAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "clipcast", Name: "bind_attempts_total", Help: "Platform bind attempts, by platform and result."},
		[]string{"platform", "result"},
	)
	Unbinds = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "clipcast", Name: "unbinds_total", Help: "Platform unbind requests, by platform and result."},
		[]string{"platform", "result"},
	)
	SignalsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "clipcast", Name: "auth_signals_delivered_total", Help: "Authorization completion signals delivered to a waiting bind."},
	)
	SignalsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "clipcast", Name: "auth_signals_dropped_total", Help: "Authorization completion signals dropped, by reason."},
		[]string{"reason"},
	)
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "clipcast", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "clipcast", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(StatusRefreshes)
	reg.MustRegister(BindAttempts)
	reg.MustRegister(Unbinds)
	reg.MustRegister(SignalsDelivered)
	reg.MustRegister(SignalsDropped)
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
}
