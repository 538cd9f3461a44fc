package cluster

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/atlassian/hasocket"
)

const metricsNamespace = "hasocket"

const (
	routeWrite  = "write"
	routeRead   = "read"
	routeNotify = "notify"
)

const (
	outcomeOK              = "ok"
	outcomeNoNode          = "no_node"
	outcomeNodeUnavailable = "node_unavailable"
	outcomeTimeout         = "timeout"
	outcomeError           = "error"
)

// Metrics are the prometheus collectors of a Manager.
type Metrics struct {
	requests  *prometheus.CounterVec
	refreshes prometheus.Counter
	pool      *poolCollector
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Requests routed through the cluster manager, by route and outcome.",
		}, []string{"route", "outcome"}),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "route_refreshes_total",
			Help:      "Recomputations of the routing table.",
		}),
		pool: &poolCollector{
			desc: prometheus.NewDesc(
				prometheus.BuildFQName(metricsNamespace, "", "pool_connections"),
				"Pooled data connections per node and state.",
				[]string{"endpoint", "state"}, nil,
			),
		},
	}
	for _, c := range []prometheus.Collector{m.requests, m.refreshes, m.pool} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) watch(manager *Manager) {
	m.pool.manager = manager
}

func (m *Metrics) observe(route string, err error) {
	m.requests.WithLabelValues(route, outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, hasocket.ErrNoWriteNode), errors.Is(err, hasocket.ErrNoReadNodes):
		return outcomeNoNode
	case errors.Is(err, hasocket.ErrNodeUnavailable):
		return outcomeNodeUnavailable
	case errors.Is(err, hasocket.ErrRequestTimeout):
		return outcomeTimeout
	default:
		return outcomeError
	}
}

// poolCollector reports pool sizes at scrape time.
type poolCollector struct {
	desc    *prometheus.Desc
	manager *Manager
}

func (pc *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pc.desc
}

func (pc *poolCollector) Collect(ch chan<- prometheus.Metric) {
	if pc.manager == nil {
		return
	}
	for _, node := range pc.manager.nodes {
		idle, busy := node.PoolSize()
		ch <- prometheus.MustNewConstMetric(pc.desc, prometheus.GaugeValue, float64(idle), node.DataEndpoint(), "idle")
		ch <- prometheus.MustNewConstMetric(pc.desc, prometheus.GaugeValue, float64(busy), node.DataEndpoint(), "busy")
	}
}
