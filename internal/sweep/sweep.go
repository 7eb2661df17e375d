// Package sweep implements the batch sweeper: it enumerates all documents
// of configured doctypes on both sides and drives the sync engine over
// the union of their names.
package sweep

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kestrelsync/docsync/internal/model"
	"github.com/kestrelsync/docsync/internal/remote"
)

// Engine is the subset of syncengine.Engine the sweeper depends on.
type Engine interface {
	SyncDocument(ctx context.Context, doctype, docname string, hint model.Direction) (bool, string)
}

// Stats tallies a doctype or full sweep's outcomes. Success, Skipped,
// Conflicts, and Failed are mutually exclusive per document.
type Stats struct {
	Total     int
	Success   int
	Skipped   int
	Conflicts int
	Failed    int
}

func (s *Stats) add(other Stats) {
	s.Total += other.Total
	s.Success += other.Success
	s.Skipped += other.Skipped
	s.Conflicts += other.Conflicts
	s.Failed += other.Failed
}

// Sweeper drives SyncDocument across every document of the configured
// doctypes.
type Sweeper struct {
	Engine   Engine
	Cloud    *remote.Client
	Local    *remote.Client
	Doctypes []string
	Limit    int
	Log      *slog.Logger
}

// SyncDoctype lists both sides for one doctype and syncs the union of
// document names.
func (s *Sweeper) SyncDoctype(ctx context.Context, doctype string) (Stats, error) {
	cloudDocs, err := s.Cloud.List(ctx, doctype, remote.ListOptions{PageLen: s.Limit})
	if err != nil {
		return Stats{}, err
	}
	localDocs, err := s.Local.List(ctx, doctype, remote.ListOptions{PageLen: s.Limit})
	if err != nil {
		return Stats{}, err
	}

	names := map[string]struct{}{}
	for _, d := range cloudDocs {
		names[d.Name()] = struct{}{}
	}
	for _, d := range localDocs {
		names[d.Name()] = struct{}{}
	}

	var stats Stats
	for name := range names {
		stats.Total++
		ok, message := s.Engine.SyncDocument(ctx, doctype, name, model.DirectionAuto)
		classify(&stats, ok, message)
	}
	return stats, nil
}

// classify buckets one SyncDocument outcome into exactly one counter,
// checked in an order that keeps conflict and no-op messages from
// double-counting as a plain success.
func classify(stats *Stats, ok bool, message string) {
	switch {
	case strings.Contains(message, "conflict"):
		stats.Conflicts++
	case !ok:
		stats.Failed++
	case strings.Contains(message, "no changes"):
		stats.Skipped++
	default:
		stats.Success++
	}
}

// SyncAllDoctypes runs SyncDoctype over every configured doctype, summing
// statistics. A single doctype's listing failure is logged and counted as
// one failure rather than aborting the whole sweep.
func (s *Sweeper) SyncAllDoctypes(ctx context.Context) Stats {
	var total Stats
	for _, dt := range s.Doctypes {
		stats, err := s.SyncDoctype(ctx, dt)
		if err != nil {
			s.Log.Error("sweep doctype failed", "doctype", dt, "error", err)
			total.Failed++
			continue
		}
		total.add(stats)
	}
	return total
}
