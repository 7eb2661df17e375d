package remote

import (
	"testing"

	"github.com/kestrelsync/docsync/internal/model"
)

func TestFingerprint_KeyOrderInvariant(t *testing.T) {
	a := model.Document{"name": "x", "customer_name": "Acme", "address": map[string]any{"city": "NY", "zip": "10001"}}
	b := model.Document{"address": map[string]any{"zip": "10001", "city": "NY"}, "customer_name": "Acme", "name": "x"}

	if Fingerprint(a, nil) != Fingerprint(b, nil) {
		t.Fatalf("expected key-order-independent fingerprints to match")
	}
}

func TestFingerprint_ExcludesSystemFields(t *testing.T) {
	base := model.Document{"name": "x", "customer_name": "Acme"}
	withMeta := model.Document{
		"name": "x", "customer_name": "Acme",
		"modified": "2024-01-01 00:00:00", "modified_by": "bob",
		"creation": "2023-01-01 00:00:00", "owner": "bob", "idx": 1,
	}

	if Fingerprint(base, nil) != Fingerprint(withMeta, nil) {
		t.Fatalf("expected system fields to be excluded from fingerprint")
	}
}

func TestFingerprint_ExtraExclude(t *testing.T) {
	a := model.Document{"name": "x", "last_synced_by_ui": "foo"}
	b := model.Document{"name": "x", "last_synced_by_ui": "bar"}

	if Fingerprint(a, []string{"last_synced_by_ui"}) != Fingerprint(b, []string{"last_synced_by_ui"}) {
		t.Fatalf("expected extra-excluded field to not affect fingerprint")
	}
}

func TestFingerprint_DetectsRealChange(t *testing.T) {
	a := model.Document{"name": "x", "customer_name": "Acme"}
	b := model.Document{"name": "x", "customer_name": "Acme Inc"}

	if Fingerprint(a, nil) == Fingerprint(b, nil) {
		t.Fatalf("expected differing content to produce different fingerprints")
	}
}
