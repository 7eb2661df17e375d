// Package model defines the shared document and record types replicated
// between the two sides and persisted in the state store.
package model

import "time"

// Document is a heterogeneous record as decoded from either side's JSON
// resource API. Only a fixed set of system fields carry meaning to the
// engine; everything else is opaque payload.
type Document map[string]any

// SystemFields are excluded from fingerprinting by default.
var SystemFields = []string{"modified", "modified_by", "creation", "owner", "idx"}

// SanitizeFields are stripped before a document is written to the
// receiving side. Only these fields (plus configured extras) are stripped;
// idx, although a SystemField, is sent.
var SanitizeFields = []string{
	"name", "owner", "modified_by", "creation", "modified", "docstatus",
	"_user_tags", "_comments", "_assign", "_liked_by",
}

func (d Document) Name() string {
	v, _ := d["name"].(string)
	return v
}

func (d Document) Modified() string {
	v, _ := d["modified"].(string)
	return v
}

// Direction is the outcome of the direction resolver.
type Direction string

const (
	DirectionAuto         Direction = "auto"
	DirectionNone         Direction = "none"
	DirectionCloudToLocal Direction = "cloud_to_local"
	DirectionLocalToCloud Direction = "local_to_cloud"
	DirectionConflict     Direction = "conflict"
)

// SyncStatus is the persisted lifecycle state of a SyncRecord.
type SyncStatus string

const (
	StatusPending  SyncStatus = "pending"
	StatusSynced   SyncStatus = "synced"
	StatusConflict SyncStatus = "conflict"
	StatusError    SyncStatus = "error"
)

// SyncRecord tracks the last-known-synced state of one (doctype, docname)
// pair across both sides.
type SyncRecord struct {
	Doctype       string     `json:"doctype"`
	Docname       string     `json:"docname"`
	CloudModified time.Time  `json:"cloud_modified"`
	LocalModified time.Time  `json:"local_modified"`
	LastSynced    time.Time  `json:"last_synced"`
	SyncHashCloud string     `json:"sync_hash_cloud"`
	SyncHashLocal string     `json:"sync_hash_local"`
	IsSyncing     bool       `json:"is_syncing"`
	SyncStatus    SyncStatus `json:"sync_status"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	RetryCount    int        `json:"retry_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// SyncRecordPatch carries the fields Release should persist. SyncStatus,
// ErrorMessage and RetryCount are always written (RetryCount 0 resets the
// counter); the time and hash fields are written only when non-zero, so a
// zero value there keeps the record's previous value.
type SyncRecordPatch struct {
	SyncStatus    SyncStatus
	ErrorMessage  string
	RetryCount    int
	LastSynced    time.Time
	SyncHashCloud string
	SyncHashLocal string
	CloudModified time.Time
	LocalModified time.Time
}

// LogStatus is the outcome recorded for a single sync attempt.
type LogStatus string

const (
	LogSuccess  LogStatus = "success"
	LogFailed   LogStatus = "failed"
	LogConflict LogStatus = "conflict"
)

// SyncLogEntry is one append-only row describing a single engine decision.
type SyncLogEntry struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Doctype   string    `json:"doctype"`
	Docname   string    `json:"docname"`
	Direction Direction `json:"direction"`
	Status    LogStatus `json:"status"`
	Message   string    `json:"message"`
}

// ConflictRecord captures both sides' raw content at the moment a
// conflict was detected, plus its eventual resolution.
type ConflictRecord struct {
	ID           uint64    `json:"id"`
	Doctype      string    `json:"doctype"`
	Docname      string    `json:"docname"`
	CloudRaw     string    `json:"cloud_raw"`
	LocalRaw     string    `json:"local_raw"`
	CloudModTime time.Time `json:"cloud_mod_time"`
	LocalModTime time.Time `json:"local_mod_time"`
	Resolved     bool      `json:"resolved"`
	Resolution   string    `json:"resolution,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ResolvedAt   time.Time `json:"resolved_at,omitempty"`
}

// EventSource identifies which side a webhook notification came from.
type EventSource string

const (
	SourceCloud EventSource = "cloud"
	SourceLocal EventSource = "local"
)

// EventQueueEntry is one ingress-queued notification awaiting processing
// by a Queue Worker.
type EventQueueEntry struct {
	ID           uint64      `json:"id"`
	Source       EventSource `json:"source"`
	Doctype      string      `json:"doctype"`
	Docname      string      `json:"docname"`
	Action       string      `json:"action"`
	Payload      []byte      `json:"payload"`
	Processed    bool        `json:"processed"`
	Processing   bool        `json:"processing"`
	CreatedAt    time.Time   `json:"created_at"`
	ClaimedAt    time.Time   `json:"claimed_at,omitempty"`
	ProcessedAt  time.Time   `json:"processed_at,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	RetryCount   int         `json:"retry_count"`
}
