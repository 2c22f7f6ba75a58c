package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	HubCallsTotal       *prometheus.CounterVec
	HubCallDuration     *prometheus.HistogramVec
	HubRetriesTotal     *prometheus.CounterVec
	HubRateLimitedTotal *prometheus.CounterVec
	HubCircuitOpenTotal *prometheus.CounterVec
	HubBreakerState     *prometheus.GaugeVec
}

func New() *Metrics {
	return &Metrics{
		HubCallsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "carpeta_hub_calls_total",
			Help: "Total Hub calls by endpoint and classified outcome",
		}, []string{"endpoint", "outcome"}),
		HubCallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carpeta_hub_call_duration_seconds",
			Help:    "Latency of Hub calls including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		HubRetriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "carpeta_hub_retries_total",
			Help: "Total retry attempts against the Hub",
		}, []string{"endpoint"}),
		HubRateLimitedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "carpeta_hub_rate_limited_total",
			Help: "Hub calls denied by the outbound rate limiter",
		}, []string{"endpoint"}),
		HubCircuitOpenTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "carpeta_hub_circuit_open_total",
			Help: "Hub calls refused by an open circuit breaker",
		}, []string{"endpoint"}),
		HubBreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "carpeta_hub_breaker_state",
			Help: "Circuit breaker state per endpoint (0=closed, 1=open, 2=half_open)",
		}, []string{"endpoint"}),
	}
}

func (m *Metrics) ObserveCall(endpoint, outcome string, seconds float64) {
	m.HubCallsTotal.WithLabelValues(endpoint, outcome).Inc()
	m.HubCallDuration.WithLabelValues(endpoint).Observe(seconds)
}

func (m *Metrics) IncrementRetries(endpoint string) {
	m.HubRetriesTotal.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) IncrementRateLimited(endpoint string) {
	m.HubRateLimitedTotal.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) IncrementCircuitOpen(endpoint string) {
	m.HubCircuitOpenTotal.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) SetBreakerState(endpoint string, state float64) {
	m.HubBreakerState.WithLabelValues(endpoint).Set(state)
}
