package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	TransitionsTotal  *prometheus.CounterVec
	ActiveTransfers   *prometheus.GaugeVec
	WorkerSweepsTotal prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "carpeta_transfer_transitions_total",
			Help: "State machine transitions by resulting status",
		}, []string{"to_status"}),
		ActiveTransfers: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "carpeta_transfer_active",
			Help: "Transfers currently in a non-terminal status",
		}, []string{"status"}),
		WorkerSweepsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carpeta_transfer_worker_sweeps_total",
			Help: "Background worker sweeps over retryable transfers",
		}),
	}
}

func (m *Metrics) RecordTransition(toStatus string) {
	m.TransitionsTotal.WithLabelValues(toStatus).Inc()
}

func (m *Metrics) SetActive(status string, n int) {
	m.ActiveTransfers.WithLabelValues(status).Set(float64(n))
}

func (m *Metrics) IncrementSweeps() {
	m.WorkerSweepsTotal.Inc()
}
