package observability

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process registry and the pool-operation instruments.
type Metrics struct {
	registry *prom.Registry

	operations  *prom.CounterVec
	poolDisks   *prom.GaugeVec
	syncRunning prom.Gauge
}

func New() *Metrics {
	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		operations: prom.NewCounterVec(prom.CounterOpts{
			Name: "poold_pool_operations_total",
			Help: "Pool reconciliation and mutation operations by outcome.",
		}, []string{"op", "outcome"}),
		poolDisks: prom.NewGaugeVec(prom.GaugeOpts{
			Name: "poold_pool_disks",
			Help: "Committed pool member disks by role.",
		}, []string{"role"}),
		syncRunning: prom.NewGauge(prom.GaugeOpts{
			Name: "poold_snapraid_sync_running",
			Help: "Whether a snapraid sync is currently running.",
		}),
	}
	reg.MustRegister(m.operations, m.poolDisks, m.syncRunning)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveOperation(op string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) SetPoolDisks(counts map[string]int) {
	for _, role := range []string{"data", "parity", "cache"} {
		m.poolDisks.WithLabelValues(role).Set(float64(counts[role]))
	}
}

func (m *Metrics) SetSyncRunning(running bool) {
	if running {
		m.syncRunning.Set(1)
	} else {
		m.syncRunning.Set(0)
	}
}
