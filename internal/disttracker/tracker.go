// Package disttracker implements the Distributed Tracker (spec.md §4.6):
// it wires a machine's local tracker to the two-tier ring+DHT topology,
// routing locally originated changes up to the owning shard and fanning
// lookups out across the same path.
package disttracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/buildcache/contenttracker/internal/batch"
	"github.com/buildcache/contenttracker/internal/buildring"
	"github.com/buildcache/contenttracker/internal/contentindex"
	"github.com/buildcache/contenttracker/internal/errkind"
	"github.com/buildcache/contenttracker/internal/ids"
	"github.com/buildcache/contenttracker/internal/localtracker"
	"github.com/buildcache/contenttracker/internal/shardmgr"
	"github.com/buildcache/contenttracker/internal/stamp"
)

// RemoteCaller performs the actual RPC hop to another machine. Production
// code satisfies this with the gRPC transport client; tests satisfy it
// with an in-memory fake wired directly to other Trackers.
type RemoteCaller interface {
	ForwardUpdate(ctx context.Context, target ids.MachineID, entries []contentindex.Entry) error
	ForwardGet(ctx context.Context, target ids.MachineID, hashes []ids.Hash) ([]contentindex.Entry, error)
}

// Locator resolves a machine id to a dialable location, so a resolved
// content location can be handed to whatever actually fetches bytes.
// Satisfied structurally by transport.brokerLocator.
type Locator interface {
	Lookup(id ids.MachineID) (ids.Location, bool)
}

// Fallback answers "where did we last see this hash" from durable
// storage outside the tracker's own ephemeral state — consulted only
// when the DHT has no live answer (spec.md §8 scenario S4: a ring was
// removed entirely, taking its shard ownership with it). Satisfied
// structurally by backingcache.Store.
type Fallback interface {
	Get(hash ids.Hash) (ids.Location, int64, bool, error)
}

// Tracker is the distributed content tracker running on one machine. It
// holds the machine's own local shard of the index and knows how to
// route changes and queries to the rest of the cluster.
type Tracker struct {
	self     ids.MachineID
	local    *localtracker.Tracker
	rings    *buildring.Registry
	shards   *shardmgr.Manager
	remote   RemoteCaller
	locator  Locator
	fallback Fallback
	batcher  *batch.Queue[pendingForward]
}

// New creates a Tracker for self, backed by local for this machine's own
// shard of the index, rings for ring-leader routing, shards for DHT
// ownership, and remote for outbound RPC hops.
func New(self ids.MachineID, local *localtracker.Tracker, rings *buildring.Registry, shards *shardmgr.Manager, remote RemoteCaller) *Tracker {
	return &Tracker{self: self, local: local, rings: rings, shards: shards, remote: remote}
}

// SetLocator wires in the machine-id-to-location resolver used by
// ResolveLocation. A Tracker with no locator never resolves via the DHT
// path and falls straight through to its Fallback, if any.
func (t *Tracker) SetLocator(l Locator) {
	t.locator = l
}

// SetFallback wires in the durable backing store ResolveLocation
// consults when the DHT has nothing live to report.
func (t *Tracker) SetFallback(f Fallback) {
	t.fallback = f
}

// pendingForward is one outbound hop accumulated in the Nagle batching
// queue: target is where it's headed, done carries the classified
// outcome back to whichever propagate call enqueued it.
type pendingForward struct {
	target ids.MachineID
	entry  contentindex.Entry
	done   chan error
}

// SetBatching wires in the Nagle-style batching queue (spec.md §5):
// outbound forward hops accumulate for up to interval (or until size of
// them are pending, whichever first) and flush grouped by target in a
// single ForwardUpdate call per target, the way a busy leader coalesces
// many workers' near-simultaneous changes into one hop to the shard
// owner instead of one RPC per change. Each caller still observes its
// own hop's outcome synchronously — batching only coalesces the wire
// traffic, not the caller's view of completion.
func (t *Tracker) SetBatching(size int, interval time.Duration) {
	t.batcher = batch.New(size, interval, t.flushForwards)
}

// flushForwards is the batching queue's Flusher: it groups the flushed
// batch by target (a single flush can span several in-flight propagate
// calls headed to different owners) and issues one ForwardUpdate per
// target group, delivering the classified outcome back through each
// item's done channel.
func (t *Tracker) flushForwards(items []pendingForward) {
	byTarget := make(map[ids.MachineID][]pendingForward)
	for _, it := range items {
		byTarget[it.target] = append(byTarget[it.target], it)
	}
	for target, group := range byTarget {
		entries := make([]contentindex.Entry, len(group))
		for i, g := range group {
			entries[i] = g.entry
		}
		err := classifyForwardErr(context.Background(), target, entries[0].Hash, t.remote.ForwardUpdate(context.Background(), target, entries))
		for _, g := range group {
			g.done <- err
		}
	}
}

// classifyForwardErr applies spec.md §4.6/§7's failure semantics to the
// result of a single ForwardUpdate hop: nil and PermanentRejected/
// Cancelled pass through unchanged; anything else (Transient exhausted,
// or an unclassified transport failure) is logged and swallowed to nil,
// since the owner will still learn of the change lazily.
func classifyForwardErr(ctx context.Context, target ids.MachineID, hash ids.Hash, err error) error {
	if err == nil {
		return nil
	}
	if errkind.Is(err, errkind.Cancelled) || errkind.Is(err, errkind.PermanentRejected) {
		return err
	}
	slog.WarnContext(ctx, "disttracker: propagate hop unreachable, deferring to lazy discovery",
		"hash", hash, "target", target, "err", err)
	return nil
}

// routeTarget decides who to call next to get entry/query for key toward
// its DHT owner: self if we already are the owner, our ring leader if we
// have one and aren't it, otherwise the owner directly.
func (t *Tracker) routeTarget(owner ids.MachineID) ids.MachineID {
	if owner == t.self {
		return t.self
	}
	if r, inRing := t.rings.RingFor(t.self); inRing {
		if leader, ok := r.Leader(); ok && leader != t.self {
			return leader
		}
	}
	return owner
}

// ProcessLocalChange mints a local change (as localtracker.Tracker does)
// and propagates it toward the DHT shard owner for its hash, either
// directly or via this machine's ring leader.
func (t *Tracker) ProcessLocalChange(ctx context.Context, op stamp.Operation, hash ids.Hash, size int64) (contentindex.Entry, error) {
	entry := t.local.ProcessLocalChange(op, hash, size)
	if err := t.propagate(ctx, entry); err != nil {
		return entry, err
	}
	return entry, nil
}

// IngestForwarded merges entries forwarded from another machine (a ring
// member pushing to its leader, or a leader pushing to a shard owner)
// into local state and continues propagation if this machine is not yet
// the terminal shard owner for a given entry.
func (t *Tracker) IngestForwarded(ctx context.Context, entries []contentindex.Entry) error {
	if err := t.local.UpdateLocations(entries); err != nil {
		return err
	}
	var result *multierror.Error
	for _, e := range entries {
		if err := t.propagate(ctx, e); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// propagate forwards entry one hop toward its DHT owner. A hop failure
// classified as Transient-exhausted or otherwise unreachable (spec.md
// §4.6/§7: "Unreachable ... never aborts the overall operation") is
// logged and swallowed rather than failing the local mutation that
// triggered it — the owner learns of entry lazily the next time anyone
// asks it directly. PermanentRejected and Cancelled are surfaced, since
// those represent a hop that explicitly refused or was told to stop.
func (t *Tracker) propagate(ctx context.Context, entry contentindex.Entry) error {
	owner, err := t.shards.Owner(string(entry.Hash))
	if err != nil {
		return err
	}
	if owner == t.self {
		return nil
	}

	target := t.routeTarget(owner)
	if target == t.self {
		return nil
	}

	if t.batcher == nil {
		return classifyForwardErr(ctx, target, entry.Hash, t.remote.ForwardUpdate(ctx, target, []contentindex.Entry{entry}))
	}

	done := make(chan error, 1)
	t.batcher.Add(pendingForward{target: target, entry: entry, done: done})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errkind.Wrap(ctx.Err(), errkind.Cancelled, "propagate", "context done while queued for batch flush")
	}
}

// GetLocations answers a lookup by merging local state for each hash
// with whatever the hash's shard owner (reached via this machine's ring
// leader when applicable) reports, fanning out concurrently. Hops run
// independently: one hash's Unreachable hop never cancels another's
// in-flight lookup, and contributes an empty merge rather than failing
// the whole call (spec.md §4.6's failure semantics).
func (t *Tracker) GetLocations(ctx context.Context, hashes []ids.Hash) ([]contentindex.Entry, error) {
	results := t.local.GetLocations(hashes)

	type outcome struct {
		contributed bool
		err         error
	}
	outcomes := make([]outcome, len(hashes))

	var wg sync.WaitGroup
	var mu sync.Mutex
	for i, h := range hashes {
		owner, err := t.shards.Owner(string(h))
		if err != nil {
			outcomes[i] = outcome{err: err}
			continue
		}
		target := t.routeTarget(owner)
		if target == t.self {
			continue
		}

		wg.Add(1)
		go func(i int, h ids.Hash, target ids.MachineID) {
			defer wg.Done()
			remoteEntries, err := t.remote.ForwardGet(ctx, target, []ids.Hash{h})
			if err != nil {
				if !errkind.Is(err, errkind.Cancelled) && !errkind.Is(err, errkind.PermanentRejected) {
					slog.WarnContext(ctx, "disttracker: lookup hop unreachable, treating as empty contribution",
						"hash", h, "target", target, "err", err)
				}
				mu.Lock()
				outcomes[i] = outcome{err: err}
				mu.Unlock()
				return
			}
			if len(remoteEntries) == 0 {
				return
			}
			mu.Lock()
			results[i] = contentindex.Merge(results[i], remoteEntries[0])
			outcomes[i] = outcome{contributed: true}
			mu.Unlock()
		}(i, h, target)
	}
	wg.Wait()

	anySuccess := false
	var firstFatal, firstErr error
	for i, o := range outcomes {
		if o.contributed || !results[i].Empty() {
			anySuccess = true
		}
		if o.err == nil {
			continue
		}
		if firstErr == nil {
			firstErr = o.err
		}
		if firstFatal == nil && (errkind.Is(o.err, errkind.Cancelled) || errkind.Is(o.err, errkind.PermanentRejected)) {
			firstFatal = o.err
		}
	}

	// "if any hop succeeded and contributed non-empty data, the overall
	// operation is a success ... otherwise the first non-transient error
	// is reported" (spec.md §7) — fall back to the first error of any
	// kind only when every hop failed and none was non-transient.
	if !anySuccess {
		if firstFatal != nil {
			return results, firstFatal
		}
		if firstErr != nil {
			return results, firstErr
		}
	}
	return results, nil
}

// ResolveLocation answers "where can hash's bytes be fetched from right
// now", the read path an external content-placement caller drives: the
// DHT-backed GetLocations first, falling through to the durable Fallback
// when no live machine answers (its ring was removed, or it hasn't
// heartbeat recently enough for this machine to have heard).
func (t *Tracker) ResolveLocation(ctx context.Context, hash ids.Hash) (ids.Location, int64, bool, error) {
	entries, err := t.GetLocations(ctx, []ids.Hash{hash})
	if err == nil && len(entries) == 1 && t.locator != nil {
		for _, machine := range entries[0].Locations() {
			if loc, ok := t.locator.Lookup(machine); ok {
				return loc, entries[0].Size, true, nil
			}
		}
	}

	if t.fallback == nil {
		return "", 0, false, nil
	}
	return t.fallback.Get(hash)
}
