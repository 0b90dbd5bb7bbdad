package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	RegistrationsCreated *prometheus.CounterVec
	PaymentTransitions   *prometheus.CounterVec
	GatewayErrors        *prometheus.CounterVec
	SweepRuns            *prometheus.CounterVec
	SweepExpired         prometheus.Counter
	NotificationsQueued  *prometheus.CounterVec
	NotificationAttempts *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RegistrationsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "league_registrations_created_total",
			Help: "Registrations persisted by intake, by payment method",
		}, []string{"method"}),
		PaymentTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "league_payment_transitions_total",
			Help: "Payment status transitions applied, by resulting payment status and invocation site",
		}, []string{"status", "source"}),
		GatewayErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "league_gateway_errors_total",
			Help: "Payment gateway call failures, by operation and error kind",
		}, []string{"op", "kind"}),
		SweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "league_sweep_runs_total",
			Help: "Reconciliation sweeps, by outcome",
		}, []string{"outcome"}),
		SweepExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "league_sweep_expired_total",
			Help: "Gateway registrations expired by the sweeper",
		}),
		NotificationsQueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "league_notifications_queued_total",
			Help: "Notification jobs accepted by the dispatcher, by job type",
		}, []string{"job_type"}),
		NotificationAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "league_notification_attempts_total",
			Help: "Notification channel attempts, by job type, channel and success",
		}, []string{"job_type", "channel", "success"}),
	}
}

// ObserveAttempt counts one channel attempt. Nil-safe so tests can skip metrics.
func (m *Metrics) ObserveAttempt(jobType, channel string, success bool) {
	if m == nil {
		return
	}
	m.NotificationAttempts.WithLabelValues(jobType, channel, strconv.FormatBool(success)).Inc()
}

func (m *Metrics) ObserveQueued(jobType string) {
	if m == nil {
		return
	}
	m.NotificationsQueued.WithLabelValues(jobType).Inc()
}

func (m *Metrics) ObserveRegistration(method string) {
	if m == nil {
		return
	}
	m.RegistrationsCreated.WithLabelValues(method).Inc()
}

func (m *Metrics) ObserveTransition(status, source string) {
	if m == nil {
		return
	}
	m.PaymentTransitions.WithLabelValues(status, source).Inc()
}

func (m *Metrics) ObserveGatewayError(op, kind string) {
	if m == nil {
		return
	}
	m.GatewayErrors.WithLabelValues(op, kind).Inc()
}

func (m *Metrics) ObserveSweep(outcome string, expired int64) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(outcome).Inc()
	if expired > 0 {
		m.SweepExpired.Add(float64(expired))
	}
}
