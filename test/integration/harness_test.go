// Package integration exercises the distributed tracker end to end,
// across several machines wired together in memory, against the
// multi-machine scenarios the distributed tracker's design was reviewed
// against: ring-internal propagation, DHT-routed cross-ring lookups,
// leader non-broadcast, ring-removal/late-join fallback paths, and
// machine id reclamation.
package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/buildcache/contenttracker/internal/backingcache"
	"github.com/buildcache/contenttracker/internal/buildring"
	"github.com/buildcache/contenttracker/internal/clusterclock"
	"github.com/buildcache/contenttracker/internal/clusterstate"
	"github.com/buildcache/contenttracker/internal/contentindex"
	"github.com/buildcache/contenttracker/internal/disttracker"
	"github.com/buildcache/contenttracker/internal/ids"
	"github.com/buildcache/contenttracker/internal/localtracker"
	"github.com/buildcache/contenttracker/internal/shardmgr"
	"github.com/buildcache/contenttracker/internal/stamp"
	"github.com/buildcache/contenttracker/internal/transport"
)

// fakeMesh dispatches disttracker's RemoteCaller hops directly to another
// machine's own Tracker, exercising real routing logic without a network.
type fakeMesh struct {
	byMachine map[ids.MachineID]*disttracker.Tracker
}

func (m *fakeMesh) ForwardUpdate(ctx context.Context, target ids.MachineID, entries []contentindex.Entry) error {
	return m.byMachine[target].IngestForwarded(ctx, entries)
}

func (m *fakeMesh) ForwardGet(ctx context.Context, target ids.MachineID, hashes []ids.Hash) ([]contentindex.Entry, error) {
	return m.byMachine[target].GetLocations(ctx, hashes)
}

// machine is one participant's full stack: its own local shard of the
// index plus the distributed tracker that routes it to the rest of the
// cluster.
type machine struct {
	id    ids.MachineID
	loc   ids.Location
	local *localtracker.Tracker
	dist  *disttracker.Tracker
}

// cluster is the shared harness every scenario builds on: a cluster-state
// broker (machine registration and liveness), a ring registry, a DHT
// shard manager, a backing cache standing in for durable storage, and an
// in-memory mesh connecting every machine's distributed tracker to every
// other's.
type cluster struct {
	t      *testing.T
	clock  *clusterclock.Fake
	broker *clusterstate.Broker
	rings  *buildring.Registry
	shards *shardmgr.Manager
	store  *backingcache.Store
	mesh   *fakeMesh
	living map[ids.MachineID]*machine
}

func newCluster(t *testing.T) *cluster {
	t.Helper()
	store, err := backingcache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open backing cache: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return &cluster{
		t:      t,
		clock:  clusterclock.NewFake(time.Unix(1700000000, 0)),
		broker: clusterstate.NewBroker(clusterstate.Empty()),
		rings:  buildring.NewRegistry(),
		shards: shardmgr.NewManager(),
		store:  store,
		mesh:   &fakeMesh{byMachine: make(map[ids.MachineID]*disttracker.Tracker)},
		living: make(map[ids.MachineID]*machine),
	}
}

// addMachine registers id at loc in cluster state and wires up its local
// and distributed trackers. It is not marked available for DHT shard
// ownership on its own — call makeShardOwner for that, mirroring the two
// independent pools (ring membership, shard ownership) spec.md §4
// describes.
func (c *cluster) addMachine(id ids.MachineID, loc ids.Location) *machine {
	c.t.Helper()
	c.broker.Apply(clusterstate.ForceRegisterMachine(c.broker.Current(), id, loc, c.clock.Now()))

	local := localtracker.New(id, c.clock, 0)
	dist := disttracker.New(id, local, c.rings, c.shards, c.mesh)
	dist.SetLocator(transport.NewBrokerLocator(c.broker))
	dist.SetFallback(c.store)

	m := &machine{id: id, loc: loc, local: local, dist: dist}
	c.living[id] = m
	c.mesh.byMachine[id] = dist
	return m
}

// ring installs a ring named id with the given members, in leader order
// (the first member is the leader).
func (c *cluster) ring(id string, members ...ids.MachineID) {
	c.rings.Upsert(id, members)
}

// makeShardOwner marks id available as a DHT shard owner.
func (c *cluster) makeShardOwner(id ids.MachineID) {
	c.shards.SetAvailable(id, true)
}

// removeRing deletes ring id and marks every former member DeadUnavailable
// in cluster state and no longer available for DHT shard ownership — the
// "a ring lost quorum entirely" condition scenario S4 exercises.
func (c *cluster) removeRing(id string) {
	c.t.Helper()
	members := c.rings.RemoveRing(id)
	next := c.broker.Current()
	for _, mid := range members {
		var err error
		next, _, err = clusterstate.Heartbeat(next, mid, c.clock.Now(), clusterstate.DeadUnavailable)
		if err != nil {
			c.t.Fatalf("mark %s DeadUnavailable: %v", mid, err)
		}
		c.shards.SetAvailable(mid, false)
	}
	c.broker.Apply(next)
}

// recordToStore mirrors what transport.Server.record does in production:
// persisting a successfully-merged entry's locations into the backing
// cache so a later ring-loss or late-join fallback can still find them.
func (c *cluster) recordToStore(entry contentindex.Entry) {
	c.t.Helper()
	for _, mid := range entry.Locations() {
		m, ok := c.living[mid]
		if !ok {
			continue
		}
		if err := c.store.Record(entry.Hash, m.loc, entry.Size); err != nil {
			c.t.Fatalf("record %s into backing cache: %v", entry.Hash, err)
		}
	}
}

func mustPlace(t *testing.T, m *machine, hash ids.Hash, size int64) contentindex.Entry {
	t.Helper()
	entry, err := m.dist.ProcessLocalChange(context.Background(), stamp.Add, hash, size)
	if err != nil {
		t.Fatalf("ProcessLocalChange(%s) on %s: %v", hash, m.id, err)
	}
	return entry
}
