// Package store implements the durable state store: sync_record,
// sync_log, conflict_record, and event_queue, backed by a single embedded
// bbolt database file. Every logical operation runs inside one bolt
// transaction, which is the only synchronization primitive the engine
// relies on for cross-process/cross-worker exclusivity.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/kestrelsync/docsync/internal/model"
)

var (
	syncRecordBucket     = []byte("sync_record")
	syncLogBucket        = []byte("sync_log")
	conflictRecordBucket = []byte("conflict_record")
	eventQueueBucket     = []byte("event_queue")
)

// ErrBusy is returned by Claim when the record is already held by another
// worker.
var ErrBusy = errors.New("document is already being synced")

// ErrNotFound is returned when an operation references a record or event
// that does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *bolt.DB
}

// Open creates or opens the embedded database at path, creating the four
// table buckets if they do not already exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{syncRecordBucket, syncLogBucket, conflictRecordBucket, eventQueueBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping confirms the underlying database handle is reachable, for the
// readiness probe.
func (s *Store) Ping() error {
	return s.db.View(func(tx *bolt.Tx) error { return nil })
}

func recordKey(doctype, docname string) []byte {
	return []byte(doctype + "\x00" + docname)
}

func seqKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

// Claim atomically sets is_syncing on (doctype, docname), creating the
// record on first observation. Returns ErrBusy if already held.
func (s *Store) Claim(doctype, docname string) (*model.SyncRecord, error) {
	var rec model.SyncRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(syncRecordBucket)
		key := recordKey(doctype, docname)
		now := time.Now()

		if data := b.Get(key); data != nil {
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			if rec.IsSyncing {
				return ErrBusy
			}
		} else {
			rec = model.SyncRecord{
				Doctype:    doctype,
				Docname:    docname,
				SyncStatus: model.StatusPending,
				CreatedAt:  now,
			}
		}
		rec.IsSyncing = true
		rec.UpdatedAt = now
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Release writes patch onto the record and clears is_syncing.
func (s *Store) Release(doctype, docname string, patch model.SyncRecordPatch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(syncRecordBucket)
		key := recordKey(doctype, docname)
		data := b.Get(key)
		if data == nil {
			return ErrNotFound
		}
		var rec model.SyncRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		rec.IsSyncing = false
		rec.SyncStatus = patch.SyncStatus
		rec.ErrorMessage = patch.ErrorMessage
		rec.RetryCount = patch.RetryCount
		if !patch.LastSynced.IsZero() {
			rec.LastSynced = patch.LastSynced
		}
		if patch.SyncHashCloud != "" {
			rec.SyncHashCloud = patch.SyncHashCloud
		}
		if patch.SyncHashLocal != "" {
			rec.SyncHashLocal = patch.SyncHashLocal
		}
		if !patch.CloudModified.IsZero() {
			rec.CloudModified = patch.CloudModified
		}
		if !patch.LocalModified.IsZero() {
			rec.LocalModified = patch.LocalModified
		}
		rec.UpdatedAt = time.Now()

		updated, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key, updated)
	})
}

// GetSyncRecord returns the record for (doctype, docname), or nil if none
// has been observed yet.
func (s *Store) GetSyncRecord(doctype, docname string) (*model.SyncRecord, error) {
	var rec *model.SyncRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(syncRecordBucket).Get(recordKey(doctype, docname))
		if data == nil {
			return nil
		}
		var r model.SyncRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		rec = &r
		return nil
	})
	return rec, err
}

// LogSync appends one row to the sync log.
func (s *Store) LogSync(entry model.SyncLogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(syncLogBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry.Seq = seq
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now()
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// ListSyncLog reads up to limit log rows in insertion order, starting
// after sinceSeq.
func (s *Store) ListSyncLog(sinceSeq uint64, limit int) ([]model.SyncLogEntry, error) {
	var out []model.SyncLogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(syncLogBucket).Cursor()
		for k, v := c.Seek(seqKey(sinceSeq + 1)); k != nil && (limit <= 0 || len(out) < limit); k, v = c.Next() {
			var entry model.SyncLogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}

// RecordConflict persists an unresolved conflict snapshot and returns its id.
func (s *Store) RecordConflict(entry model.ConflictRecord) (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conflictRecordBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = seq
		entry.ID = seq
		entry.Resolved = false
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now()
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
	return id, err
}

// UpdateConflictResolution marks a previously recorded conflict resolved,
// only once the chosen transfer direction has actually succeeded.
func (s *Store) UpdateConflictResolution(id uint64, resolution string, resolvedAt time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conflictRecordBucket)
		data := b.Get(seqKey(id))
		if data == nil {
			return ErrNotFound
		}
		var rec model.ConflictRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		rec.Resolved = true
		rec.Resolution = resolution
		rec.ResolvedAt = resolvedAt
		updated, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(seqKey(id), updated)
	})
}

// ListConflicts returns conflicts, optionally filtered by resolved state.
func (s *Store) ListConflicts(resolved *bool, limit int) ([]model.ConflictRecord, error) {
	var out []model.ConflictRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(conflictRecordBucket).Cursor()
		for k, v := c.First(); k != nil && (limit <= 0 || len(out) < limit); k, v = c.Next() {
			var rec model.ConflictRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if resolved != nil && rec.Resolved != *resolved {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// EnqueueEvent inserts a new event queue row and returns its id.
func (s *Store) EnqueueEvent(entry model.EventQueueEntry) (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(eventQueueBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = seq
		entry.ID = seq
		entry.Processed = false
		entry.Processing = false
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now()
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
	return id, err
}

// ClaimEvents selects up to max unprocessed, unclaimed events in FIFO
// order and atomically flips their processing flag.
func (s *Store) ClaimEvents(max int) ([]model.EventQueueEntry, error) {
	var claimed []model.EventQueueEntry
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(eventQueueBucket)

		// The cursor only selects candidates here; bbolt forbids mutating
		// the bucket while a cursor is ranging over it, so every Put
		// happens in a second pass below, once the scan is done.
		c := b.Cursor()
		for k, v := c.First(); k != nil && len(claimed) < max; k, v = c.Next() {
			var entry model.EventQueueEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}
			if entry.Processed || entry.Processing {
				continue
			}
			claimed = append(claimed, entry)
		}

		now := time.Now()
		for i := range claimed {
			claimed[i].Processing = true
			claimed[i].ClaimedAt = now
			data, err := json.Marshal(claimed[i])
			if err != nil {
				return err
			}
			if err := b.Put(seqKey(claimed[i].ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

// CompleteEvent marks a claimed event as successfully processed.
func (s *Store) CompleteEvent(id uint64, processedAt time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(eventQueueBucket)
		data := b.Get(seqKey(id))
		if data == nil {
			return ErrNotFound
		}
		var entry model.EventQueueEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		entry.Processed = true
		entry.Processing = false
		entry.ProcessedAt = processedAt
		updated, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(seqKey(id), updated)
	})
}

// FailEvent returns a claimed event to the ready pool with an error
// recorded and its retry count bumped.
func (s *Store) FailEvent(id uint64, errMsg string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(eventQueueBucket)
		data := b.Get(seqKey(id))
		if data == nil {
			return ErrNotFound
		}
		var entry model.EventQueueEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		entry.Processing = false
		entry.ErrorMessage = errMsg
		entry.RetryCount++
		updated, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(seqKey(id), updated)
	})
}

// QueueDepth reports pending (unclaimed) and processing (claimed) event counts.
func (s *Store) QueueDepth() (pending, processing int, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(eventQueueBucket).ForEach(func(k, v []byte) error {
			var entry model.EventQueueEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil
			}
			if entry.Processed {
				return nil
			}
			if entry.Processing {
				processing++
			} else {
				pending++
			}
			return nil
		})
	})
	return pending, processing, err
}

// ReapStuck clears is_syncing and processing flags that have been held
// longer than threshold, recovering state after a crashed worker.
//
// bbolt's ForEach forbids mutating the bucket it is iterating, so each pass
// below only collects the keys to update and writes them back afterward.
func (s *Store) ReapStuck(threshold time.Duration) (reapedRecords, reapedEvents int, err error) {
	cutoff := time.Now().Add(-threshold)
	err = s.db.Update(func(tx *bolt.Tx) error {
		rb := tx.Bucket(syncRecordBucket)
		var staleRecords []model.SyncRecord
		if err := rb.ForEach(func(k, v []byte) error {
			var rec model.SyncRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			if rec.IsSyncing && rec.UpdatedAt.Before(cutoff) {
				staleRecords = append(staleRecords, rec)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, rec := range staleRecords {
			rec.IsSyncing = false
			rec.UpdatedAt = time.Now()
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := rb.Put(recordKey(rec.Doctype, rec.Docname), data); err != nil {
				return err
			}
			reapedRecords++
		}

		eb := tx.Bucket(eventQueueBucket)
		var staleEvents []model.EventQueueEntry
		if err := eb.ForEach(func(k, v []byte) error {
			var entry model.EventQueueEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil
			}
			if entry.Processing && !entry.Processed && entry.ClaimedAt.Before(cutoff) {
				staleEvents = append(staleEvents, entry)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, entry := range staleEvents {
			entry.Processing = false
			data, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			if err := eb.Put(seqKey(entry.ID), data); err != nil {
				return err
			}
			reapedEvents++
		}
		return nil
	})
	return reapedRecords, reapedEvents, err
}
