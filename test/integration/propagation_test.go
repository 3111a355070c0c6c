package integration

import (
	"context"
	"fmt"
	"testing"

	"github.com/buildcache/contenttracker/internal/ids"
)

// S1 — Worker→Leader propagation. A non-leader ring member places content;
// the ring's leader must learn of it (it is the only ring member ever
// forwarded to), and the DHT shard owner for the hash must learn of it too.
func TestS1WorkerToLeaderPropagation(t *testing.T) {
	t.Parallel()
	c := newCluster(t)

	leader := c.addMachine(1, "grpc://w1:7070/")
	w2 := c.addMachine(2, "grpc://w2:7070/")
	c.addMachine(3, "grpc://w3:7070/")
	owner := c.addMachine(9, "grpc://owner:7070/")
	c.makeShardOwner(9)
	c.ring("r1", 1, 2, 3)

	entry := mustPlace(t, w2, "H", 100)
	if !entry.Contains(2) {
		t.Fatalf("returned entry missing originating machine: %+v", entry)
	}

	if got := leader.local.GetLocations([]ids.Hash{"H"})[0]; !got.Contains(2) {
		t.Fatalf("ring leader never learned of H from non-leader worker: %+v", got)
	}
	if got := owner.local.GetLocations([]ids.Hash{"H"})[0]; !got.Contains(2) {
		t.Fatalf("DHT shard owner never learned of H: %+v", got)
	}
}

// S2 — Cross-ring lookup via the DHT. A worker in one ring places content;
// a worker in an entirely different ring must be able to look it up,
// routed through the DHT shard owner rather than through any ring.
func TestS2CrossRingLookupViaDHT(t *testing.T) {
	t.Parallel()
	c := newCluster(t)

	w1 := c.addMachine(1, "grpc://w1:7070/")
	c.addMachine(2, "grpc://w2:7070/")
	c.makeShardOwner(1)
	c.ring("r1", 1, 2)

	w3 := c.addMachine(3, "grpc://w3:7070/")
	c.addMachine(4, "grpc://w4:7070/")
	c.ring("r2", 3, 4)

	mustPlace(t, w1, "H2", 55)

	entries, err := w3.dist.GetLocations(context.Background(), []ids.Hash{"H2"})
	if err != nil {
		t.Fatalf("GetLocations: %v", err)
	}
	if len(entries) != 1 || !entries[0].Contains(1) || entries[0].Size != 55 {
		t.Fatalf("GetLocations(H2) from other ring = %+v, want entry holding machine 1 size 55", entries)
	}
}

// S3 — Leader non-broadcast. In a ten-machine ring, the leader placing
// content must not broadcast it to the other ring members: only the
// leader itself (and the DHT shard owner) learn of it locally, so at
// least four non-leader members remain unaware until they ask.
func TestS3LeaderDoesNotBroadcastToRingMembers(t *testing.T) {
	t.Parallel()
	c := newCluster(t)

	members := make([]ids.MachineID, 10)
	for i := range members {
		members[i] = ids.MachineID(i + 1)
	}
	all := make(map[ids.MachineID]*machine, len(members))
	for i, mid := range members {
		all[mid] = c.addMachine(mid, ids.Canonicalize(fmt.Sprintf("w%d:7070", i)))
	}
	owner := c.addMachine(99, "grpc://owner:7070/")
	c.makeShardOwner(99)
	c.ring("big", members...)

	leader := all[members[0]]
	mustPlace(t, leader, "H3", 7)

	if got := owner.local.GetLocations([]ids.Hash{"H3"})[0]; !got.Contains(members[0]) {
		t.Fatalf("DHT shard owner never learned of H3: %+v", got)
	}

	unaware := 0
	for _, mid := range members[1:] {
		got := all[mid].local.GetLocations([]ids.Hash{"H3"})[0]
		if got.Empty() {
			unaware++
		}
	}
	if unaware < 4 {
		t.Fatalf("only %d of %d non-leader members were unaware of H3, want at least 4", unaware, len(members)-1)
	}
}
