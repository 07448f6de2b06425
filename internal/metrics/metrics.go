package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry     *prometheus.Registry
	messages     *prometheus.CounterVec
	latency      prometheus.Histogram
	flowStarts   *prometheus.CounterVec
	flowEnds     *prometheus.CounterVec
	transactions *prometheus.CounterVec
	pinFailures  prometheus.Counter
	lockouts     prometheus.Counter
	otpIssued    *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatwallet_messages_total",
			Help: "Inbound messages by outcome.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatwallet_message_duration_seconds",
			Help:    "Time spent processing one inbound message.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		flowStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatwallet_flow_starts_total",
			Help: "Flows started by flow id.",
		}, []string{"flow"}),
		flowEnds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatwallet_flow_completions_total",
			Help: "Flows completed by flow id.",
		}, []string{"flow"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatwallet_transactions_total",
			Help: "Transactions reaching a terminal status.",
		}, []string{"type", "status"}),
		pinFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatwallet_pin_failures_total",
			Help: "Incorrect PIN entries.",
		}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatwallet_lockouts_total",
			Help: "Users blocked after too many PIN failures.",
		}),
		otpIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatwallet_otp_issued_total",
			Help: "One-time codes issued by purpose.",
		}, []string{"purpose"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messages, m.latency, m.flowStarts, m.flowEnds, m.transactions, m.pinFailures, m.lockouts, m.otpIssued,
	)
	return m
}

// Handler serves the registry in exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveMessage records one processed message.
func (m *Metrics) ObserveMessage(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome).Inc()
	m.latency.Observe(took.Seconds())
}

// FlowStarted counts a flow start.
func (m *Metrics) FlowStarted(flow string) {
	if m == nil {
		return
	}
	m.flowStarts.WithLabelValues(flow).Inc()
}

// FlowCompleted counts a flow completion.
func (m *Metrics) FlowCompleted(flow string) {
	if m == nil {
		return
	}
	m.flowEnds.WithLabelValues(flow).Inc()
}

// Transaction counts a terminal transaction.
func (m *Metrics) Transaction(txType, status string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(txType, status).Inc()
}

// PINFailure counts an incorrect PIN.
func (m *Metrics) PINFailure() {
	if m == nil {
		return
	}
	m.pinFailures.Inc()
}

// Lockout counts a user block.
func (m *Metrics) Lockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

// OTPIssued counts an issued code.
func (m *Metrics) OTPIssued(purpose string) {
	if m == nil {
		return
	}
	m.otpIssued.WithLabelValues(purpose).Inc()
}
