// Package direction implements the pure decision function that chooses a
// transfer direction for one document given both sides' current content
// and the last-synced fingerprints recorded for it.
package direction

import (
	"github.com/kestrelsync/docsync/internal/model"
	"github.com/kestrelsync/docsync/internal/remote"
)

// Hashes carries just the two previously-synced fingerprints; the resolver
// takes no store dependency so it stays trivially unit-testable.
type Hashes struct {
	SyncHashCloud string
	SyncHashLocal string
}

// Resolve decides the transfer direction from already-fetched documents.
// cloudDoc/localDoc are nil when the document is absent on that side.
func Resolve(cloudDoc, localDoc model.Document, h Hashes, extraExclude []string) model.Direction {
	cloudExists := cloudDoc != nil
	localExists := localDoc != nil

	switch {
	case cloudExists && !localExists:
		return model.DirectionCloudToLocal
	case !cloudExists && localExists:
		return model.DirectionLocalToCloud
	case !cloudExists && !localExists:
		return model.DirectionNone
	}

	hc := remote.Fingerprint(cloudDoc, extraExclude)
	hl := remote.Fingerprint(localDoc, extraExclude)

	cloudChanged := hc != h.SyncHashCloud
	localChanged := hl != h.SyncHashLocal

	switch {
	case !cloudChanged && !localChanged:
		return model.DirectionNone
	case cloudChanged && !localChanged:
		return model.DirectionCloudToLocal
	case !cloudChanged && localChanged:
		return model.DirectionLocalToCloud
	default:
		return model.DirectionConflict
	}
}
