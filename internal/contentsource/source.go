// Package contentsource defines the boundary between the tracker and
// whatever actually stores content bytes (spec.md §6's external
// collaborator). The tracker never reads or writes content itself —
// it only ever records where the collaborator said something was put or
// removed.
package contentsource

import (
	"context"

	"github.com/buildcache/contenttracker/internal/disttracker"
	"github.com/buildcache/contenttracker/internal/ids"
	"github.com/buildcache/contenttracker/internal/stamp"
)

// Source is the minimal callback surface a content store needs to drive
// the tracker: report a put or a removal, and the tracker takes it from
// there (minting a stamp, merging locally, propagating).
type Source interface {
	// Put reports that size bytes addressed by hash are now available
	// locally.
	Put(ctx context.Context, hash ids.Hash, size int64) error
	// Remove reports that hash is no longer available locally.
	Remove(ctx context.Context, hash ids.Hash) error
}

// TrackerSource adapts a *disttracker.Tracker to Source, translating
// Put/Remove into the stamped ProcessLocalChange call the distributed
// tracker actually exposes.
type TrackerSource struct {
	Tracker *disttracker.Tracker
}

func (s TrackerSource) Put(ctx context.Context, hash ids.Hash, size int64) error {
	_, err := s.Tracker.ProcessLocalChange(ctx, stamp.Add, hash, size)
	return err
}

func (s TrackerSource) Remove(ctx context.Context, hash ids.Hash) error {
	_, err := s.Tracker.ProcessLocalChange(ctx, stamp.Delete, hash, contentindexUnknownSize)
	return err
}

// contentindexUnknownSize mirrors contentindex.UnknownSize without
// importing the package just for one constant a Remove call needs.
const contentindexUnknownSize = -1
