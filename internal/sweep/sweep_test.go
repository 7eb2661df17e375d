package sweep

import (
	"context"
	"testing"

	"github.com/kestrelsync/docsync/internal/model"
)

type fakeEngine struct {
	results map[string]struct {
		ok  bool
		msg string
	}
}

func (f *fakeEngine) SyncDocument(_ context.Context, _, docname string, _ model.Direction) (bool, string) {
	r := f.results[docname]
	return r.ok, r.msg
}

func TestClassify_MutuallyExclusive(t *testing.T) {
	cases := []struct {
		ok      bool
		message string
		want    string
	}{
		{true, "created on local from cloud", "success"},
		{true, "no changes to sync", "skipped"},
		{true, "conflict resolved (local_wins (latest)): updated on cloud", "conflict"},
		{false, "conflict detected - manual resolution required", "conflict"},
		{false, "update failed: timeout", "failed"},
	}
	for _, c := range cases {
		var s Stats
		classify(&s, c.ok, c.message)
		got := ""
		switch {
		case s.Success == 1:
			got = "success"
		case s.Skipped == 1:
			got = "skipped"
		case s.Conflicts == 1:
			got = "conflict"
		case s.Failed == 1:
			got = "failed"
		}
		if got != c.want {
			t.Errorf("classify(%v, %q) = %s, want %s", c.ok, c.message, got, c.want)
		}
	}
}
