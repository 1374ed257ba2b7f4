package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "munportal",
			Name:      "cache_hits_total",
			Help:      "Total cache hits",
		},
		[]string{"namespace"},
	)

	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "munportal",
			Name:      "cache_misses_total",
			Help:      "Total cache misses",
		},
		[]string{"namespace"},
	)

	cacheExpired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "munportal",
			Name:      "cache_expired_total",
			Help:      "Entries dropped because their TTL had passed when read",
		},
		[]string{"namespace"},
	)

	cacheEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "munportal",
			Name:      "cache_evicted_total",
			Help:      "Entries evicted because the cache was full",
		},
		[]string{"namespace"},
	)

	fetchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "munportal",
			Name:      "fetch_outcomes_total",
			Help:      "Settled view fetches by resource and outcome",
		},
		[]string{"resource", "outcome"},
	)

	apiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "munportal",
			Name:      "api_request_duration_seconds",
			Help:      "Duration of backend API requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "code"},
	)

	formTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "munportal",
			Name:      "registration_step_transitions_total",
			Help:      "Registration form transitions by source step and result",
		},
		[]string{"from", "result"},
	)
)

// cacheSize reports the number of stored cache entries; nil until a cache
// is attached.
var cacheSize atomic.Pointer[func() int]

var cacheEntries = prometheus.NewGaugeFunc(
	prometheus.GaugeOpts{
		Namespace: "munportal",
		Name:      "cache_entries",
		Help:      "Entries currently held by the response cache",
	},
	func() float64 {
		if fn := cacheSize.Load(); fn != nil {
			return float64((*fn)())
		}
		return 0
	},
)

// SetCacheSize attaches the function the cache_entries gauge reads.
func SetCacheSize(fn func() int) {
	cacheSize.Store(&fn)
}

var initOnce sync.Once

// Init registers the collectors with the default registry. Repeated calls
// are no-ops.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(cacheHits, cacheMisses, cacheExpired, cacheEvicted, cacheEntries, fetchOutcomes, apiDuration, formTransitions)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func IncCacheHit(namespace string) {
	cacheHits.WithLabelValues(namespace).Inc()
}

func IncCacheMiss(namespace string) {
	cacheMisses.WithLabelValues(namespace).Inc()
}

func IncCacheExpired(namespace string) {
	cacheExpired.WithLabelValues(namespace).Inc()
}

func IncCacheEvicted(namespace string) {
	cacheEvicted.WithLabelValues(namespace).Inc()
}

func IncFetch(resource, outcome string) {
	fetchOutcomes.WithLabelValues(resource, outcome).Inc()
}

// ObserveAPI records one backend round trip. code is "error" when no
// response was received.
func ObserveAPI(endpoint, method, code string, d time.Duration) {
	apiDuration.WithLabelValues(endpoint, method, code).Observe(d.Seconds())
}

func IncTransition(from, result string) {
	formTransitions.WithLabelValues(from, result).Inc()
}
