// Package metrics implements a hand-rolled Prometheus text-exposition
// collector for the sync engine, matching the reference implementation's
// own choice to avoid a client library dependency.
package metrics

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const latencyBucketCount = 11

var latencyBounds = [latencyBucketCount]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// statusMetrics holds per-(endpoint,status) webhook request counters.
type statusMetrics struct {
	count atomic.Int64
}

type outcomeKey struct {
	direction string
	result    string
}

// Collector tracks ingress, sync, and queue metrics and exposes them over
// GET /metrics in Prometheus exposition format.
type Collector struct {
	startTime time.Time

	webhookMu     sync.RWMutex
	webhookCounts map[string]*statusMetrics // key: endpoint|status

	outcomeMu     sync.RWMutex
	outcomeCounts map[outcomeKey]*atomic.Int64

	conflictMu     sync.RWMutex
	conflictCounts map[string]*atomic.Int64 // key: resolution

	claimContention atomic.Int64

	sinkFailureMu     sync.RWMutex
	sinkFailureCounts map[string]*atomic.Int64 // key: backend

	latencyBuckets [latencyBucketCount]atomic.Int64
	latencySum     atomic.Int64 // microseconds
	latencyCount   atomic.Int64

	queueDepthFn func() (pending, processing int, err error)
}

func NewCollector() *Collector {
	return &Collector{
		startTime:      time.Now(),
		webhookCounts:     make(map[string]*statusMetrics),
		outcomeCounts:     make(map[outcomeKey]*atomic.Int64),
		conflictCounts:    make(map[string]*atomic.Int64),
		sinkFailureCounts: make(map[string]*atomic.Int64),
	}
}

// SetQueueDepthSource wires a callback the collector polls when scraped.
func (c *Collector) SetQueueDepthSource(fn func() (pending, processing int, err error)) {
	c.queueDepthFn = fn
}

func (c *Collector) StartTime() time.Time { return c.startTime }

// RecordWebhookRequest increments the counter for an ingress endpoint and
// response status code.
func (c *Collector) RecordWebhookRequest(endpoint string, status int) {
	key := endpoint + "|" + fmt.Sprintf("%d", status)
	c.webhookMu.RLock()
	m, ok := c.webhookCounts[key]
	c.webhookMu.RUnlock()
	if !ok {
		c.webhookMu.Lock()
		if m, ok = c.webhookCounts[key]; !ok {
			m = &statusMetrics{}
			c.webhookCounts[key] = m
		}
		c.webhookMu.Unlock()
	}
	m.count.Add(1)
}

// RecordSyncOutcome increments the counter for a direction/result pair
// (result is one of success, failed, conflict).
func (c *Collector) RecordSyncOutcome(direction, result string) {
	key := outcomeKey{direction: direction, result: result}
	c.outcomeMu.RLock()
	v, ok := c.outcomeCounts[key]
	c.outcomeMu.RUnlock()
	if !ok {
		c.outcomeMu.Lock()
		if v, ok = c.outcomeCounts[key]; !ok {
			v = &atomic.Int64{}
			c.outcomeCounts[key] = v
		}
		c.outcomeMu.Unlock()
	}
	v.Add(1)
}

// RecordConflict increments the counter for a conflict resolution policy.
func (c *Collector) RecordConflict(resolution string) {
	c.conflictMu.RLock()
	v, ok := c.conflictCounts[resolution]
	c.conflictMu.RUnlock()
	if !ok {
		c.conflictMu.Lock()
		if v, ok = c.conflictCounts[resolution]; !ok {
			v = &atomic.Int64{}
			c.conflictCounts[resolution] = v
		}
		c.conflictMu.Unlock()
	}
	v.Add(1)
}

// RecordClaimContention increments the counter for failed-to-claim attempts,
// i.e. a document already claimed by another in-flight sync.
func (c *Collector) RecordClaimContention() {
	c.claimContention.Add(1)
}

// RecordSinkFailure increments the counter for a backend whose event was
// dropped after exhausting its bounded retry.
func (c *Collector) RecordSinkFailure(backend string) {
	c.sinkFailureMu.RLock()
	v, ok := c.sinkFailureCounts[backend]
	c.sinkFailureMu.RUnlock()
	if !ok {
		c.sinkFailureMu.Lock()
		if v, ok = c.sinkFailureCounts[backend]; !ok {
			v = &atomic.Int64{}
			c.sinkFailureCounts[backend] = v
		}
		c.sinkFailureMu.Unlock()
	}
	v.Add(1)
}

// RecordLatency records an ingress request duration in the histogram.
func (c *Collector) RecordLatency(d time.Duration) {
	secs := d.Seconds()
	for i, bound := range latencyBounds {
		if secs <= bound {
			c.latencyBuckets[i].Add(1)
		}
	}
	c.latencySum.Add(d.Microseconds())
	c.latencyCount.Add(1)
}

// ServeHTTP handles GET /metrics in Prometheus exposition format.
func (c *Collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	c.webhookMu.RLock()
	keys := make([]string, 0, len(c.webhookCounts))
	for k := range c.webhookCounts {
		keys = append(keys, k)
	}
	c.webhookMu.RUnlock()
	sort.Strings(keys)
	for _, k := range keys {
		c.webhookMu.RLock()
		m := c.webhookCounts[k]
		c.webhookMu.RUnlock()
		endpoint, status := splitOnce(k, '|')
		fmt.Fprintf(w, "docsync_webhook_requests_total{endpoint=%q,status=%q} %d\n", endpoint, status, m.count.Load())
	}

	c.outcomeMu.RLock()
	for key, v := range c.outcomeCounts {
		fmt.Fprintf(w, "docsync_sync_outcomes_total{direction=%q,result=%q} %d\n", key.direction, key.result, v.Load())
	}
	c.outcomeMu.RUnlock()

	c.conflictMu.RLock()
	for resolution, v := range c.conflictCounts {
		fmt.Fprintf(w, "docsync_conflicts_total{resolution=%q} %d\n", resolution, v.Load())
	}
	c.conflictMu.RUnlock()

	fmt.Fprintf(w, "docsync_claim_contention_total %d\n", c.claimContention.Load())

	c.sinkFailureMu.RLock()
	for backend, v := range c.sinkFailureCounts {
		fmt.Fprintf(w, "docsync_sink_failures_total{backend=%q} %d\n", backend, v.Load())
	}
	c.sinkFailureMu.RUnlock()

	if c.queueDepthFn != nil {
		pending, processing, err := c.queueDepthFn()
		if err == nil {
			fmt.Fprintf(w, "docsync_queue_pending %d\n", pending)
			fmt.Fprintf(w, "docsync_queue_processing %d\n", processing)
		}
	}

	for i, bound := range latencyBounds {
		fmt.Fprintf(w, "docsync_ingress_request_duration_seconds_bucket{le=\"%.3f\"} %d\n", bound, c.latencyBuckets[i].Load())
	}
	fmt.Fprintf(w, "docsync_ingress_request_duration_seconds_bucket{le=\"+Inf\"} %d\n", c.latencyCount.Load())
	fmt.Fprintf(w, "docsync_ingress_request_duration_seconds_sum %.6f\n", float64(c.latencySum.Load())/1e6)
	fmt.Fprintf(w, "docsync_ingress_request_duration_seconds_count %d\n", c.latencyCount.Load())

	fmt.Fprintf(w, "docsync_uptime_seconds %.0f\n", time.Since(c.startTime).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	fmt.Fprintf(w, "docsync_go_goroutines %d\n", runtime.NumGoroutine())
	fmt.Fprintf(w, "docsync_go_memory_alloc_bytes %d\n", mem.Alloc)
	fmt.Fprintf(w, "docsync_go_memory_sys_bytes %d\n", mem.Sys)
	fmt.Fprintf(w, "docsync_go_gc_total %d\n", mem.NumGC)
}

func splitOnce(s string, sep byte) (string, string) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}
