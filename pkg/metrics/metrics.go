package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the orchestrator's Prometheus collectors on a private registry.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	webhooksTotal    *prometheus.CounterVec
	providerCalls    *prometheus.CounterVec
	pollsTotal       *prometheus.CounterVec
	activeSessions   prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "code"})
	transitionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_session_transitions_total",
		Help: "Persisted session status transitions",
	}, []string{"from", "to", "source"})
	webhooksTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_webhooks_total",
		Help: "Provider webhooks by provider and outcome",
	}, []string{"provider", "outcome"})
	providerCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_provider_calls_total",
		Help: "Provider API calls by provider, operation and outcome",
	}, []string{"provider", "operation", "outcome"})
	pollsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_polls_total",
		Help: "Reconciliation polls by outcome",
	}, []string{"outcome"})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_active_sessions",
		Help: "Sessions polled in the last reconciliation pass",
	})

	registry.MustRegister(
		requestsTotal,
		transitionsTotal,
		webhooksTotal,
		providerCalls,
		pollsTotal,
		activeSessions,
	)

	return &Metrics{
		registry:         registry,
		requestsTotal:    requestsTotal,
		transitionsTotal: transitionsTotal,
		webhooksTotal:    webhooksTotal,
		providerCalls:    providerCalls,
		pollsTotal:       pollsTotal,
		activeSessions:   activeSessions,
	}
}

func (m *Metrics) ObserveRequest(route string, code int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (m *Metrics) ObserveTransition(from, to, source string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to, source).Inc()
}

func (m *Metrics) ObserveWebhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveProviderCall implements provider.Observer.
func (m *Metrics) ObserveProviderCall(provider, operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.providerCalls.WithLabelValues(provider, operation, outcome).Inc()
}

func (m *Metrics) ObservePoll(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.pollsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// Registry exposes the registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
