package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/philiph/samlauth/internal/core/ports"
)

// PrometheusMetricsRecorder records metrics using Prometheus.
type PrometheusMetricsRecorder struct {
	loginAttemptsTotal   *prometheus.CounterVec
	sessionsCreatedTotal prometheus.Counter
	replaysRejectedTotal prometheus.Counter
	logoutsTotal         *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder creates a new Prometheus metrics recorder
// using the default Prometheus registry.
func NewPrometheusMetricsRecorder() *PrometheusMetricsRecorder {
	return NewPrometheusMetricsRecorderWithRegistry(prometheus.DefaultRegisterer)
}

// NewPrometheusMetricsRecorderWithRegistry creates a new Prometheus metrics
// recorder with a custom registry. Use this for testing.
func NewPrometheusMetricsRecorderWithRegistry(reg prometheus.Registerer) *PrometheusMetricsRecorder {
	loginAttemptsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "samlauth_login_attempts_total",
		Help: "Total SAML login attempts by validation result",
	}, []string{"result"})

	sessionsCreatedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "samlauth_sessions_created_total",
		Help: "Total sessions created",
	})

	replaysRejectedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "samlauth_replays_rejected_total",
		Help: "Total responses rejected for an unknown or consumed request ID",
	})

	logoutsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "samlauth_logouts_total",
		Help: "Total single-logout attempts by terminal state",
	}, []string{"state"})

	reg.MustRegister(
		loginAttemptsTotal,
		sessionsCreatedTotal,
		replaysRejectedTotal,
		logoutsTotal,
	)

	return &PrometheusMetricsRecorder{
		loginAttemptsTotal:   loginAttemptsTotal,
		sessionsCreatedTotal: sessionsCreatedTotal,
		replaysRejectedTotal: replaysRejectedTotal,
		logoutsTotal:         logoutsTotal,
	}
}

// RecordLoginAttempt records an ACS validation outcome.
func (p *PrometheusMetricsRecorder) RecordLoginAttempt(code string) {
	p.loginAttemptsTotal.WithLabelValues(code).Inc()
}

// RecordSessionCreated records a new session creation.
func (p *PrometheusMetricsRecorder) RecordSessionCreated() {
	p.sessionsCreatedTotal.Inc()
}

// RecordReplayRejected records a rejected replayed or unsolicited response.
func (p *PrometheusMetricsRecorder) RecordReplayRejected() {
	p.replaysRejectedTotal.Inc()
}

// RecordLogout records a terminal single-logout state.
func (p *PrometheusMetricsRecorder) RecordLogout(state string) {
	p.logoutsTotal.WithLabelValues(state).Inc()
}

var _ ports.MetricsRecorder = (*PrometheusMetricsRecorder)(nil)
