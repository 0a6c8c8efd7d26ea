package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricHits counts snapshot hits, negative entries included.
	metricHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settings_cache_hits_total",
		Help: "Number of setting reads answered from the snapshot.",
	}) //nolint:gochecknoglobals

	// metricMisses counts reads that fell through to the adapter.
	metricMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settings_cache_misses_total",
		Help: "Number of setting reads that required an adapter lookup.",
	}) //nolint:gochecknoglobals

	// metricLoads counts full snapshot loads.
	metricLoads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settings_cache_loads_total",
		Help: "Number of full snapshot loads.",
	}) //nolint:gochecknoglobals

	// metricRefreshes counts refresh cycles by outcome.
	metricRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settings_cache_refreshes_total",
		Help: "Number of refresh cycles, differentiated by outcome.",
	}, []string{"result"}) //nolint:gochecknoglobals
)
