package store

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "entitystore"

// Metrics holds the store's Prometheus collectors.
type Metrics struct {
	BlocksApplied   *prometheus.CounterVec
	VersionsWritten *prometheus.CounterVec
	Reverts         *prometheus.CounterVec
	LayoutLookups   *prometheus.CounterVec
	EventsDropped   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		BlocksApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "blocks_applied_total",
			Help:      "Blocks applied per deployment.",
		}, []string{"deployment"}),
		VersionsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "versions_written_total",
			Help:      "Entity versions inserted per deployment.",
		}, []string{"deployment"}),
		Reverts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reverts_total",
			Help:      "Reverts performed per deployment.",
		}, []string{"deployment"}),
		LayoutLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "layout_cache_lookups_total",
			Help:      "Layout cache lookups by result.",
		}, []string{"result"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_dropped_total",
			Help:      "Store events dropped because a subscriber was full.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.BlocksApplied, m.VersionsWritten, m.Reverts, m.LayoutLookups, m.EventsDropped,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observeLayoutLookup(hit bool) {
	if hit {
		m.LayoutLookups.WithLabelValues("hit").Inc()
		return
	}
	m.LayoutLookups.WithLabelValues("miss").Inc()
}
