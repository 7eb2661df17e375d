package direction

import (
	"testing"

	"github.com/kestrelsync/docsync/internal/model"
	"github.com/kestrelsync/docsync/internal/remote"
)

func TestResolve_OnlyCloudExists(t *testing.T) {
	got := Resolve(model.Document{"name": "x"}, nil, Hashes{}, nil)
	if got != model.DirectionCloudToLocal {
		t.Fatalf("got %s, want cloud_to_local", got)
	}
}

func TestResolve_OnlyLocalExists(t *testing.T) {
	got := Resolve(nil, model.Document{"name": "x"}, Hashes{}, nil)
	if got != model.DirectionLocalToCloud {
		t.Fatalf("got %s, want local_to_cloud", got)
	}
}

func TestResolve_NeitherExists(t *testing.T) {
	got := Resolve(nil, nil, Hashes{}, nil)
	if got != model.DirectionNone {
		t.Fatalf("got %s, want none", got)
	}
}

func TestResolve_FreshRecordBothPresentAndDivergent(t *testing.T) {
	cloud := model.Document{"name": "x", "v": 1}
	local := model.Document{"name": "x", "v": 2}
	got := Resolve(cloud, local, Hashes{}, nil)
	if got != model.DirectionConflict {
		t.Fatalf("got %s, want conflict for a fresh record with divergent content", got)
	}
}

func TestResolve_BothUnchangedSinceLastSync(t *testing.T) {
	cloud := model.Document{"name": "x", "v": 1}
	local := model.Document{"name": "x", "v": 1}
	h := Hashes{SyncHashCloud: hashOf(cloud), SyncHashLocal: hashOf(local)}
	got := Resolve(cloud, local, h, nil)
	if got != model.DirectionNone {
		t.Fatalf("got %s, want none", got)
	}
}

func TestResolve_OnlyCloudChanged(t *testing.T) {
	cloud := model.Document{"name": "x", "v": 2}
	local := model.Document{"name": "x", "v": 1}
	h := Hashes{SyncHashCloud: hashOf(model.Document{"name": "x", "v": 1}), SyncHashLocal: hashOf(local)}
	got := Resolve(cloud, local, h, nil)
	if got != model.DirectionCloudToLocal {
		t.Fatalf("got %s, want cloud_to_local", got)
	}
}

func TestResolve_BothChanged(t *testing.T) {
	cloud := model.Document{"name": "x", "v": 2}
	local := model.Document{"name": "x", "v": 3}
	h := Hashes{SyncHashCloud: hashOf(model.Document{"name": "x", "v": 1}), SyncHashLocal: hashOf(model.Document{"name": "x", "v": 1})}
	got := Resolve(cloud, local, h, nil)
	if got != model.DirectionConflict {
		t.Fatalf("got %s, want conflict", got)
	}
}

func hashOf(d model.Document) string {
	return remote.Fingerprint(d, nil)
}
