package combo

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comboq_items_added_total",
			Help: "The number of combos committed to the store.",
		},
		[]string{"category"},
	)
	mDequeued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comboq_items_dequeued_total",
			Help: "The number of combos handed out by fetch.",
		},
		[]string{"category"},
	)
	mInvalidated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comboq_items_invalidated_total",
			Help: "The number of successful deletes, including delete-on-fetch.",
		},
		[]string{"category"},
	)
	mDecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comboq_decode_errors_total",
			Help: "The number of fetched rows skipped because a column could not be decoded.",
		},
		[]string{"category"},
	)
	mBatchFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comboq_batch_flushes_total",
			Help: "The number of batch flushes by outcome.",
		},
		[]string{"category", "result"},
	)
	mBatchBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "comboq_batch_flush_bytes",
			Help:    "The size of flushed batch statements.",
			Buckets: []float64{1000, 5000, 10000, 25000, 50000, 100000},
		},
		[]string{"category"},
	)
)

var routesDesc = prometheus.NewDesc(
	"comboq_shard_routes_total",
	"The number of times each shard was chosen by the rotating cursor.",
	[]string{"category", "shard"}, nil,
)

// routeCollector exports the router counters of every category at scrape
// time, so the cursor hot path carries no metric updates.
type routeCollector struct {
	registry *Registry
}

func (c routeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- routesDesc
}

func (c routeCollector) Collect(ch chan<- prometheus.Metric) {
	for _, st := range c.registry.Stats() {
		for i, n := range st.Routes {
			ch <- prometheus.MustNewConstMetric(routesDesc, prometheus.CounterValue,
				float64(n), st.Keyspace, strconv.Itoa(i))
		}
	}
}

// Collector returns a collector exporting per-shard route counts. Register it
// once per process.
func (r *Registry) Collector() prometheus.Collector {
	return routeCollector{registry: r}
}
