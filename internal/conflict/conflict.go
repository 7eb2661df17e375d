// Package conflict implements the configured resolution policy applied
// when both sides have diverged since the last synced fingerprint.
package conflict

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kestrelsync/docsync/internal/model"
)

// Policy is the configured conflict_resolution strategy.
type Policy string

const (
	PolicyLatestTimestamp Policy = "latest_timestamp"
	PolicyCloudWins       Policy = "cloud_wins"
	PolicyLocalWins       Policy = "local_wins"
	PolicyManual          Policy = "manual"
)

// Outcome tells the caller which direction to execute, if any, and under
// what resolution label the conflict should eventually be closed.
type Outcome struct {
	ConflictID uint64
	Direction  model.Direction // DirectionNone when manual
	Resolution string          // e.g. "local_wins (latest)"
	Parked     bool            // true when resolution requires a human
}

// Recorder is the subset of the state store the handler needs; it is an
// interface so the engine can be tested against a fake.
type Recorder interface {
	RecordConflict(entry model.ConflictRecord) (uint64, error)
}

// Resolve records the conflict snapshot and decides, per policy, which
// direction to execute. The caller is responsible for calling
// UpdateConflictResolution only after that direction's transfer succeeds.
func Resolve(store Recorder, policy Policy, doctype, docname string, cloudDoc, localDoc model.Document, cloudModified, localModified time.Time) (Outcome, error) {
	cloudRaw, err := json.Marshal(cloudDoc)
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal cloud snapshot: %w", err)
	}
	localRaw, err := json.Marshal(localDoc)
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal local snapshot: %w", err)
	}

	id, err := store.RecordConflict(model.ConflictRecord{
		Doctype:      doctype,
		Docname:      docname,
		CloudRaw:     string(cloudRaw),
		LocalRaw:     string(localRaw),
		CloudModTime: cloudModified,
		LocalModTime: localModified,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("record conflict: %w", err)
	}

	switch policy {
	case PolicyCloudWins:
		return Outcome{ConflictID: id, Direction: model.DirectionCloudToLocal, Resolution: "cloud_wins"}, nil
	case PolicyLocalWins:
		return Outcome{ConflictID: id, Direction: model.DirectionLocalToCloud, Resolution: "local_wins"}, nil
	case PolicyManual:
		return Outcome{ConflictID: id, Direction: model.DirectionNone, Parked: true}, nil
	case PolicyLatestTimestamp:
		fallthrough
	default:
		if localModified.Before(cloudModified) {
			return Outcome{ConflictID: id, Direction: model.DirectionCloudToLocal, Resolution: "cloud_wins (latest)"}, nil
		}
		// Ties break to local_to_cloud: local is conventionally
		// authoritative when timestamps match to the second.
		return Outcome{ConflictID: id, Direction: model.DirectionLocalToCloud, Resolution: "local_wins (latest)"}, nil
	}
}
