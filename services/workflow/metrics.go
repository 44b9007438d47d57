package workflow

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the counters the workflow service exports.
type Metrics struct {
	GraphBuilds   *prometheus.CounterVec
	CacheHits     prometheus.Counter
	GraphNodes    prometheus.Histogram
	Polls         *prometheus.CounterVec
	ActiveWatches prometheus.Gauge
}

// NewMetrics creates the service metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GraphBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow_studio",
			Name:      "graph_builds_total",
			Help:      "Graphs built, by input source.",
		}, []string{"source"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "workflow_studio",
			Name:      "graph_cache_hits_total",
			Help:      "Workflow graph requests served from the memo cache.",
		}),
		GraphNodes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "workflow_studio",
			Name:      "graph_nodes",
			Help:      "Number of nodes per built graph.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow_studio",
			Name:      "status_polls_total",
			Help:      "Run and CSV job status polls against the backend, by target and outcome.",
		}, []string{"target", "outcome"}),
		ActiveWatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "workflow_studio",
			Name:      "status_watches_active",
			Help:      "Open run and CSV job status websocket streams.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.GraphBuilds, m.CacheHits, m.GraphNodes, m.Polls, m.ActiveWatches)
	}
	return m
}

func (m *Metrics) observeBuild(source string, g Graph) {
	m.GraphBuilds.WithLabelValues(source).Inc()
	m.GraphNodes.Observe(float64(len(g.Nodes)))
}
