// Package monitor keeps the gateway's runtime counters: Prometheus metrics for
// scraping plus an in-memory snapshot served on /stats. Counters reset on
// process restart; durable per-account numbers live in the store.
package monitor

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat2api",
		Name:      "requests_total",
		Help:      "Chat relay requests by provider, model and outcome.",
	}, []string{"provider", "model", "outcome"})

	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat2api",
		Name:      "active_connections",
		Help:      "Chat relay requests currently in flight.",
	})

	relayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chat2api",
		Name:      "relay_duration_seconds",
		Help:      "Wall time of one complete relay including vendor streaming.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"provider"})
)

// Stats is the JSON snapshot served on /stats.
type Stats struct {
	TotalRequests   int64            `json:"totalRequests"`
	SuccessRequests int64            `json:"successRequests"`
	FailedRequests  int64            `json:"failedRequests"`
	ActiveRequests  int64            `json:"activeRequests"`
	ByModel         map[string]int64 `json:"byModel"`
	ByProvider      map[string]int64 `json:"byProvider"`
	ByAccount       map[string]int64 `json:"byAccount"`
}

var (
	mu         sync.Mutex
	total      int64
	success    int64
	failed     int64
	active     int64
	byModel    = make(map[string]int64)
	byProvider = make(map[string]int64)
	byAccount  = make(map[string]int64)
)

// RequestBegin marks one relay entering flight.
func RequestBegin() {
	activeConnections.Inc()
	mu.Lock()
	active++
	mu.Unlock()
}

// RequestEnd marks the relay leaving flight, regardless of outcome.
func RequestEnd() {
	activeConnections.Dec()
	mu.Lock()
	active--
	mu.Unlock()
}

// RecordOutcome tallies one terminal relay result.
func RecordOutcome(provider, model string, accountId int, ok bool, seconds float64) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	requestsTotal.WithLabelValues(provider, model, outcome).Inc()
	relayDuration.WithLabelValues(provider).Observe(seconds)

	mu.Lock()
	defer mu.Unlock()
	total++
	if ok {
		success++
	} else {
		failed++
	}
	byModel[model]++
	byProvider[provider]++
	if accountId > 0 {
		byAccount[strconv.Itoa(accountId)]++
	}
}

// GetStats returns a copy of the current counters.
func GetStats() Stats {
	mu.Lock()
	defer mu.Unlock()
	return Stats{
		TotalRequests:   total,
		SuccessRequests: success,
		FailedRequests:  failed,
		ActiveRequests:  active,
		ByModel:         copyCounts(byModel),
		ByProvider:      copyCounts(byProvider),
		ByAccount:       copyCounts(byAccount),
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
