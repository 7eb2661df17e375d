// Package eventsink fans out terminal sync outcomes (SyncLogEntry,
// ConflictRecord) to zero or more operator-configured external systems.
// Delivery is best-effort: the state store's own tables remain the
// authoritative record, so a sink failure never affects sync correctness.
package eventsink

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelsync/docsync/internal/model"
)

// Backend is one pluggable outbound destination for sync outcome events.
type Backend interface {
	Name() string
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

type deliveryJob struct {
	payload    []byte
	retryCount int
}

// Metrics receives a count of one dropped event per backend; a nil Metrics
// is valid and simply drops the observation.
type Metrics interface {
	RecordSinkFailure(backend string)
}

// Dispatcher fans out published events to every registered backend on a
// small fixed worker pool; a full queue drops the oldest pending publish
// rather than blocking the caller.
type Dispatcher struct {
	workerCh   chan deliveryJob
	wg         sync.WaitGroup
	maxWorkers int
	maxRetries int
	backoff    []time.Duration
	backends   []Backend
	mu         sync.Mutex
	log        *slog.Logger
	metrics    Metrics
}

// NewDispatcher builds a dispatcher with queueSize pending slots and
// maxWorkers delivery goroutines; failed publishes are retried up to
// maxRetries times on a fixed 5s/15s/45s backoff curve.
func NewDispatcher(maxWorkers, queueSize, maxRetries int, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		workerCh:   make(chan deliveryJob, queueSize),
		maxWorkers: maxWorkers,
		maxRetries: maxRetries,
		backoff:    []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second},
		log:        log,
	}
}

// SetMetrics wires a counter for events dropped after exhausting their
// retry budget; call before Start.
func (d *Dispatcher) SetMetrics(m Metrics) {
	d.metrics = m
}

// AddBackend registers a backend; call before Start.
func (d *Dispatcher) AddBackend(b Backend) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backends = append(d.backends, b)
	d.log.Info("event sink backend registered", "backend", b.Name())
}

// Start launches the delivery worker pool.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.maxWorkers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-d.workerCh:
					if !ok {
						return
					}
					d.deliver(ctx, job)
				}
			}
		}()
	}
}

// Stop drains in-flight deliveries and closes every backend.
func (d *Dispatcher) Stop() {
	close(d.workerCh)
	d.wg.Wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range d.backends {
		if err := b.Close(); err != nil {
			d.log.Warn("event sink backend close failed", "backend", b.Name(), "error", err)
		}
	}
}

// PublishLog fans out a completed SyncLogEntry.
func (d *Dispatcher) PublishLog(entry model.SyncLogEntry) {
	d.enqueue(entry)
}

// PublishConflict fans out a ConflictRecord.
func (d *Dispatcher) PublishConflict(entry model.ConflictRecord) {
	d.enqueue(entry)
}

func (d *Dispatcher) enqueue(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		d.log.Error("event sink marshal failed", "error", err)
		return
	}
	job := deliveryJob{payload: payload}
	select {
	case d.workerCh <- job:
	default:
		// Queue full: drop the oldest pending job to make room rather
		// than block the caller, then retry the new one once.
		select {
		case <-d.workerCh:
		default:
		}
		select {
		case d.workerCh <- job:
		default:
			d.log.Warn("event sink queue full, dropping event")
		}
	}
}

// deliver publishes one job to every backend in parallel so that a single
// slow or down backend's retry backoff never delays delivery to the rest.
func (d *Dispatcher) deliver(ctx context.Context, job deliveryJob) {
	d.mu.Lock()
	backends := make([]Backend, len(d.backends))
	copy(backends, d.backends)
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, b := range backends {
		wg.Add(1)
		go func(b Backend) {
			defer wg.Done()
			if err := b.Publish(ctx, job.payload); err != nil {
				d.retry(ctx, b, job, err)
			}
		}(b)
	}
	wg.Wait()
}

func (d *Dispatcher) retry(ctx context.Context, b Backend, job deliveryJob, cause error) {
	if job.retryCount >= d.maxRetries {
		d.log.Warn("event sink publish failed after retries", "backend", b.Name(), "retries", job.retryCount, "error", cause)
		if d.metrics != nil {
			d.metrics.RecordSinkFailure(b.Name())
		}
		return
	}
	idx := job.retryCount
	if idx >= len(d.backoff) {
		idx = len(d.backoff) - 1
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(d.backoff[idx]):
	}
	job.retryCount++
	if err := b.Publish(ctx, job.payload); err != nil {
		d.retry(ctx, b, job, err)
	}
}
