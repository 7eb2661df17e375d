package worker

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/kestrelsync/docsync/internal/model"
)

type fakeStore struct {
	queue     []model.EventQueueEntry
	completed []uint64
	failed    map[uint64]string
	reaped    int
}

func (f *fakeStore) ClaimEvents(max int) ([]model.EventQueueEntry, error) {
	var out []model.EventQueueEntry
	for i := range f.queue {
		if len(out) >= max {
			break
		}
		if !f.queue[i].Processing && !f.queue[i].Processed {
			f.queue[i].Processing = true
			out = append(out, f.queue[i])
		}
	}
	return out, nil
}

func (f *fakeStore) CompleteEvent(id uint64, _ time.Time) error {
	f.completed = append(f.completed, id)
	for i := range f.queue {
		if f.queue[i].ID == id {
			f.queue[i].Processed = true
		}
	}
	return nil
}

func (f *fakeStore) FailEvent(id uint64, msg string) error {
	if f.failed == nil {
		f.failed = map[uint64]string{}
	}
	f.failed[id] = msg
	for i := range f.queue {
		if f.queue[i].ID == id {
			f.queue[i].Processing = false
		}
	}
	return nil
}

func (f *fakeStore) ReapStuck(time.Duration) (int, int, error) {
	f.reaped++
	return 0, 0, nil
}

type fakeEngine struct {
	seenDirection map[string]model.Direction
	fail          map[string]bool
}

func (f *fakeEngine) SyncDocument(_ context.Context, doctype, docname string, hint model.Direction) (bool, string) {
	if f.seenDirection == nil {
		f.seenDirection = map[string]model.Direction{}
	}
	f.seenDirection[doctype+"/"+docname] = hint
	if f.fail[docname] {
		return false, "boom"
	}
	return true, "created on local from cloud"
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestProcessBatch_PinsDirectionBySource(t *testing.T) {
	store := &fakeStore{queue: []model.EventQueueEntry{
		{ID: 1, Source: model.SourceCloud, Doctype: "Customer", Docname: "A"},
		{ID: 2, Source: model.SourceLocal, Doctype: "Customer", Docname: "B"},
	}}
	engine := &fakeEngine{}
	w := &Worker{Store: store, Engine: engine, Log: testLogger()}

	w.processBatch(context.Background())

	if engine.seenDirection["Customer/A"] != model.DirectionCloudToLocal {
		t.Fatalf("got %s, want cloud_to_local", engine.seenDirection["Customer/A"])
	}
	if engine.seenDirection["Customer/B"] != model.DirectionLocalToCloud {
		t.Fatalf("got %s, want local_to_cloud", engine.seenDirection["Customer/B"])
	}
	if len(store.completed) != 2 {
		t.Fatalf("expected both events completed, got %+v", store.completed)
	}
}

func TestProcessBatch_FailureReturnsEventToPool(t *testing.T) {
	store := &fakeStore{queue: []model.EventQueueEntry{
		{ID: 1, Source: model.SourceCloud, Doctype: "Customer", Docname: "A"},
	}}
	engine := &fakeEngine{fail: map[string]bool{"A": true}}
	w := &Worker{Store: store, Engine: engine, Log: testLogger()}

	w.processBatch(context.Background())

	if _, ok := store.failed[1]; !ok {
		t.Fatalf("expected event 1 to be marked failed")
	}
	if len(store.completed) != 0 {
		t.Fatalf("expected no completions on failure")
	}
}
