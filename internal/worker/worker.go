// Package worker implements the long-running queue worker: it dequeues
// claimed events from the state store, invokes the sync engine with a
// direction pinned by the event's source side, and marks the outcome.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/kestrelsync/docsync/internal/model"
)

// Engine is the subset of syncengine.Engine the worker depends on.
type Engine interface {
	SyncDocument(ctx context.Context, doctype, docname string, hint model.Direction) (bool, string)
}

// Store is the subset of the state store the worker depends on.
type Store interface {
	ClaimEvents(max int) ([]model.EventQueueEntry, error)
	CompleteEvent(id uint64, processedAt time.Time) error
	FailEvent(id uint64, errMsg string) error
	ReapStuck(threshold time.Duration) (int, int, error)
}

// Worker polls the event queue on a fixed interval.
type Worker struct {
	Store             Store
	Engine            Engine
	BatchSize         int
	PollInterval      time.Duration
	WatchdogThreshold time.Duration
	WatchdogEvery     int // run ReapStuck every N ticks
	Log               *slog.Logger
}

// Run blocks, processing events until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	interval := w.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	watchdogEvery := w.WatchdogEvery
	if watchdogEvery <= 0 {
		watchdogEvery = 5
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			w.processBatch(ctx)
			if tick%watchdogEvery == 0 {
				w.reap()
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	batchSize := w.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	events, err := w.Store.ClaimEvents(batchSize)
	if err != nil {
		w.Log.Error("claim events failed", "error", err)
		return
	}
	for _, event := range events {
		w.processEvent(ctx, event)
	}
}

func (w *Worker) processEvent(ctx context.Context, event model.EventQueueEntry) {
	direction := model.DirectionCloudToLocal
	if event.Source == model.SourceLocal {
		direction = model.DirectionLocalToCloud
	}

	ok, message := w.Engine.SyncDocument(ctx, event.Doctype, event.Docname, direction)
	if !ok {
		if err := w.Store.FailEvent(event.ID, message); err != nil {
			w.Log.Error("mark event failed failed", "id", event.ID, "error", err)
		}
		w.Log.Warn("event processing failed", "id", event.ID, "doctype", event.Doctype, "docname", event.Docname, "message", message)
		return
	}
	if err := w.Store.CompleteEvent(event.ID, time.Now()); err != nil {
		w.Log.Error("mark event complete failed", "id", event.ID, "error", err)
	}
	w.Log.Info("event processed", "id", event.ID, "doctype", event.Doctype, "docname", event.Docname)
}

func (w *Worker) reap() {
	threshold := w.WatchdogThreshold
	if threshold <= 0 {
		threshold = 10 * time.Minute
	}
	records, events, err := w.Store.ReapStuck(threshold)
	if err != nil {
		w.Log.Error("reap stuck failed", "error", err)
		return
	}
	if records > 0 || events > 0 {
		w.Log.Warn("reaped stuck claims", "records", records, "events", events)
	}
}
