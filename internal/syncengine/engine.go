// Package syncengine orchestrates a single document's replication: it
// claims the per-document lock, resolves direction, executes the transfer
// against the Remote Adapters, and records the outcome.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelsync/docsync/internal/conflict"
	"github.com/kestrelsync/docsync/internal/direction"
	"github.com/kestrelsync/docsync/internal/model"
	"github.com/kestrelsync/docsync/internal/remote"
	"github.com/kestrelsync/docsync/internal/store"
)

// Sink publishes terminal outcomes to the event sink; a nil Sink is valid
// and simply drops events.
type Sink interface {
	PublishLog(entry model.SyncLogEntry)
	PublishConflict(entry model.ConflictRecord)
}

// Metrics receives per-sync outcome counts; a nil Metrics is valid and
// simply drops observations.
type Metrics interface {
	RecordSyncOutcome(direction, result string)
	RecordConflict(resolution string)
	RecordClaimContention()
}

// Rules configures the per-doctype sanitization and conflict policy used
// by every document synced through this engine.
type Rules struct {
	ExcludeFields      []string
	ConflictResolution conflict.Policy
}

// Engine is the per-process orchestrator. It is safe for concurrent use
// across distinct (doctype, docname) pairs; exclusivity within a pair is
// enforced by the state store's claim.
type Engine struct {
	Store   *store.Store
	Cloud   *remote.Client
	Local   *remote.Client
	Rules   Rules
	Sink    Sink
	Metrics Metrics
	Log     *slog.Logger
}

func (e *Engine) metrics() Metrics {
	if e.Metrics == nil {
		return noopMetrics{}
	}
	return e.Metrics
}

type noopMetrics struct{}

func (noopMetrics) RecordSyncOutcome(string, string) {}
func (noopMetrics) RecordConflict(string)             {}
func (noopMetrics) RecordClaimContention()            {}

func (e *Engine) sink() Sink {
	if e.Sink == nil {
		return noopSink{}
	}
	return e.Sink
}

type noopSink struct{}

func (noopSink) PublishLog(model.SyncLogEntry)      {}
func (noopSink) PublishConflict(model.ConflictRecord) {}

// SyncDocument is the engine's single public operation.
func (e *Engine) SyncDocument(ctx context.Context, doctype, docname string, hint model.Direction) (bool, string) {
	_, err := e.Store.Claim(doctype, docname)
	if err != nil {
		if errors.Is(err, store.ErrBusy) {
			e.metrics().RecordClaimContention()
			return false, "document is already being synced"
		}
		return false, fmt.Sprintf("claim failed: %v", err)
	}

	ok, message, patch := e.run(ctx, doctype, docname, hint)

	if rerr := e.Store.Release(doctype, docname, patch); rerr != nil {
		e.Log.Error("release failed", "doctype", doctype, "docname", docname, "error", rerr)
	}

	status := model.LogSuccess
	if !ok {
		status = model.LogFailed
		if patch.SyncStatus == model.StatusConflict {
			status = model.LogConflict
		}
	}
	entry := model.SyncLogEntry{
		Timestamp: time.Now(),
		Doctype:   doctype,
		Docname:   docname,
		Direction: hint,
		Status:    status,
		Message:   message,
	}
	if err := e.Store.LogSync(entry); err != nil {
		e.Log.Error("log sync failed", "doctype", doctype, "docname", docname, "error", err)
	}
	e.sink().PublishLog(entry)
	e.metrics().RecordSyncOutcome(string(hint), string(status))

	return ok, message
}

// run performs the claimed work and returns the release patch; it never
// itself calls Claim/Release/LogSync so SyncDocument's defer-like
// guarantees hold on every exit path.
func (e *Engine) run(ctx context.Context, doctype, docname string, hint model.Direction) (bool, string, model.SyncRecordPatch) {
	rec, err := e.Store.GetSyncRecord(doctype, docname)
	if err != nil {
		return false, fmt.Sprintf("load record: %v", err), model.SyncRecordPatch{SyncStatus: model.StatusError, ErrorMessage: err.Error(), RetryCount: 1}
	}
	if rec == nil {
		rec = &model.SyncRecord{}
	}

	cloudDoc, localDoc, err := e.fetchBoth(ctx, doctype, docname)
	if err != nil {
		return false, err.Error(), model.SyncRecordPatch{SyncStatus: model.StatusError, ErrorMessage: err.Error(), RetryCount: rec.RetryCount + 1}
	}

	dir := hint
	if hint == model.DirectionAuto {
		dir = e.decideAuto(cloudDoc, localDoc, *rec)
	}

	switch dir {
	case model.DirectionConflict:
		return e.handleConflict(ctx, doctype, docname, cloudDoc, localDoc, rec.RetryCount)
	default:
		ok, message, patch := e.execute(ctx, doctype, docname, dir, cloudDoc, localDoc, rec.RetryCount)
		return ok, message, patch
	}
}

func (e *Engine) fetchBoth(ctx context.Context, doctype, docname string) (model.Document, model.Document, error) {
	var cloudDoc, localDoc model.Document
	var cloudErr, localErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		doc, ok, err := e.Cloud.Get(ctx, doctype, docname)
		if err == nil && ok {
			cloudDoc = doc
		}
		cloudErr = err
	}()
	go func() {
		defer wg.Done()
		doc, ok, err := e.Local.Get(ctx, doctype, docname)
		if err == nil && ok {
			localDoc = doc
		}
		localErr = err
	}()
	wg.Wait()
	if cloudErr != nil {
		return nil, nil, fmt.Errorf("fetch cloud: %w", cloudErr)
	}
	if localErr != nil {
		return nil, nil, fmt.Errorf("fetch local: %w", localErr)
	}
	return cloudDoc, localDoc, nil
}

// decideAuto applies the opportunistic no-transfer shortcut before
// falling back to the resolver's fresh-record semantics.
func (e *Engine) decideAuto(cloudDoc, localDoc model.Document, rec model.SyncRecord) model.Direction {
	if cloudDoc != nil && localDoc != nil {
		hc := remote.Fingerprint(cloudDoc, e.Rules.ExcludeFields)
		hl := remote.Fingerprint(localDoc, e.Rules.ExcludeFields)
		if hc == hl {
			return model.DirectionNone
		}
	}
	return direction.Resolve(cloudDoc, localDoc, direction.Hashes{
		SyncHashCloud: rec.SyncHashCloud,
		SyncHashLocal: rec.SyncHashLocal,
	}, e.Rules.ExcludeFields)
}

func (e *Engine) execute(ctx context.Context, doctype, docname string, dir model.Direction, cloudDoc, localDoc model.Document, currentRetryCount int) (bool, string, model.SyncRecordPatch) {
	switch dir {
	case model.DirectionNone:
		if cloudDoc == nil && localDoc == nil {
			return true, "no changes to sync", model.SyncRecordPatch{SyncStatus: model.StatusSynced, LastSynced: time.Now()}
		}
		hash := remote.Fingerprint(cloudDoc, e.Rules.ExcludeFields)
		return true, "no changes to sync", model.SyncRecordPatch{
			SyncStatus: model.StatusSynced, LastSynced: time.Now(),
			SyncHashCloud: hash, SyncHashLocal: hash,
		}
	case model.DirectionCloudToLocal:
		return e.transfer(ctx, doctype, docname, true, cloudDoc, localDoc, currentRetryCount)
	case model.DirectionLocalToCloud:
		return e.transfer(ctx, doctype, docname, false, localDoc, cloudDoc, currentRetryCount)
	default:
		return true, "no changes to sync", model.SyncRecordPatch{SyncStatus: model.StatusSynced, LastSynced: time.Now()}
	}
}

// transfer pushes srcDoc to the opposite side. cloudToLocal selects which
// adapter is the sender and which is the receiver.
func (e *Engine) transfer(ctx context.Context, doctype, docname string, cloudToLocal bool, srcDoc, dstDoc model.Document, currentRetryCount int) (bool, string, model.SyncRecordPatch) {
	receiver := e.Local
	dst, src := "local", "cloud"
	if !cloudToLocal {
		receiver = e.Cloud
		dst, src = "cloud", "local"
	}

	if srcDoc == nil {
		if dstDoc == nil {
			return true, "no changes to sync", model.SyncRecordPatch{SyncStatus: model.StatusSynced, LastSynced: time.Now()}
		}
		if err := receiver.Delete(ctx, doctype, docname); err != nil {
			return false, fmt.Sprintf("delete failed: %v", err), model.SyncRecordPatch{SyncStatus: model.StatusError, ErrorMessage: err.Error(), RetryCount: currentRetryCount + 1}
		}
		return true, fmt.Sprintf("deleted from %s (deleted on %s)", dst, src), model.SyncRecordPatch{SyncStatus: model.StatusSynced, LastSynced: time.Now()}
	}

	clean := Sanitize(srcDoc, e.Rules.ExcludeFields)
	var resultErr error
	var action string
	if dstDoc != nil {
		_, resultErr = receiver.Update(ctx, doctype, docname, clean, true)
		action = "updated on"
	} else {
		_, resultErr = receiver.Create(ctx, doctype, clean)
		action = "created on"
	}
	if resultErr != nil {
		return false, fmt.Sprintf("%s failed: %v", action, resultErr), model.SyncRecordPatch{SyncStatus: model.StatusError, ErrorMessage: resultErr.Error(), RetryCount: currentRetryCount + 1}
	}

	srcHash := remote.Fingerprint(srcDoc, e.Rules.ExcludeFields)
	dstHash := remote.Fingerprint(clean, e.Rules.ExcludeFields)
	patch := model.SyncRecordPatch{SyncStatus: model.StatusSynced, LastSynced: time.Now()}
	if cloudToLocal {
		patch.SyncHashCloud = srcHash
		patch.SyncHashLocal = dstHash
		patch.CloudModified = ParseModified(srcDoc.Modified())
		patch.LocalModified = time.Now()
	} else {
		patch.SyncHashLocal = srcHash
		patch.SyncHashCloud = dstHash
		patch.LocalModified = ParseModified(srcDoc.Modified())
		patch.CloudModified = time.Now()
	}
	return true, fmt.Sprintf("%s %s from %s", action, dst, src), patch
}

func (e *Engine) handleConflict(ctx context.Context, doctype, docname string, cloudDoc, localDoc model.Document, currentRetryCount int) (bool, string, model.SyncRecordPatch) {
	cloudMod := ParseModified(cloudDoc.Modified())
	localMod := ParseModified(localDoc.Modified())

	out, err := conflict.Resolve(e.Store, e.Rules.ConflictResolution, doctype, docname, cloudDoc, localDoc, cloudMod, localMod)
	if err != nil {
		return false, fmt.Sprintf("record conflict: %v", err), model.SyncRecordPatch{SyncStatus: model.StatusError, ErrorMessage: err.Error(), RetryCount: currentRetryCount + 1}
	}
	e.sink().PublishConflict(model.ConflictRecord{ID: out.ConflictID, Doctype: doctype, Docname: docname})

	if out.Parked {
		// retry_count is left as-is: a parked manual conflict is not a
		// retryable failure, it is awaiting operator action.
		return false, "conflict detected - manual resolution required", model.SyncRecordPatch{SyncStatus: model.StatusConflict, RetryCount: currentRetryCount}
	}

	ok, message, patch := e.execute(ctx, doctype, docname, out.Direction, cloudDoc, localDoc, currentRetryCount)
	if !ok {
		return false, message, patch
	}
	if err := e.Store.UpdateConflictResolution(out.ConflictID, out.Resolution, time.Now()); err != nil {
		e.Log.Error("mark conflict resolved failed", "doctype", doctype, "docname", docname, "error", err)
	}
	e.metrics().RecordConflict(out.Resolution)
	return true, fmt.Sprintf("conflict resolved (%s): %s", out.Resolution, message), patch
}
