// Package buildring implements the ring coordinator (spec.md §4.5): a
// small, ordered group of machines that cooperate on one build, with one of them designated leader for writes into the DHT.
package buildring

import (
	"sync"

	"github.com/buildcache/contenttracker/internal/ids"
)

// Ring is a small group of machines with an order-based leader: the
// first builder in Members is always the leader, so leader failover is
// just "drop the departed member and look at index 0" — no election
// round trip needed.
type Ring struct {
	ID      string
	Members []ids.MachineID
}

// Leader returns the current leader, or ok=false if the ring is empty.
func (r Ring) Leader() (ids.MachineID, bool) {
	if len(r.Members) == 0 {
		return 0, false
	}
	return r.Members[0], true
}

// IsLeader reports whether machine is the current leader of r.
func (r Ring) IsLeader(machine ids.MachineID) bool {
	leader, ok := r.Leader()
	return ok && leader == machine
}

// Contains reports whether machine belongs to r.
func (r Ring) Contains(machine ids.MachineID) bool {
	for _, m := range r.Members {
		if m == machine {
			return true
		}
	}
	return false
}

// withoutMember returns a copy of r with machine removed, preserving the
// relative order of the remaining members (and therefore leadership,
// which falls to whoever was next in line).
func (r Ring) withoutMember(machine ids.MachineID) Ring {
	out := make([]ids.MachineID, 0, len(r.Members))
	for _, m := range r.Members {
		if m != machine {
			out = append(out, m)
		}
	}
	return Ring{ID: r.ID, Members: out}
}

// Registry tracks the set of rings a machine's process needs to know
// about: which rings exist, who their members are, and which ring(s)
// this machine itself participates in.
type Registry struct {
	mu    sync.Mutex
	rings map[string]Ring
}

// NewRegistry creates an empty ring registry.
func NewRegistry() *Registry {
	return &Registry{rings: make(map[string]Ring)}
}

// Upsert installs or replaces the ring with the given id and member
// order. The first member is the leader.
func (reg *Registry) Upsert(id string, members []ids.MachineID) {
	cp := make([]ids.MachineID, len(members))
	copy(cp, members)
	reg.mu.Lock()
	reg.rings[id] = Ring{ID: id, Members: cp}
	reg.mu.Unlock()
}

// Get returns the ring with the given id.
func (reg *Registry) Get(id string) (Ring, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rings[id]
	return r, ok
}

// RingFor returns the ring machine belongs to, if any. A machine belongs
// to at most one ring in this topology.
func (reg *Registry) RingFor(machine ids.MachineID) (Ring, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, r := range reg.rings {
		if r.Contains(machine) {
			return r, true
		}
	}
	return Ring{}, false
}

// DepartMember removes machine from its ring, promoting the next member
// in order to leader. Returns the updated ring, whether a leadership
// change occurred, and whether machine was found in any ring.
func (reg *Registry) DepartMember(machine ids.MachineID) (Ring, bool, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for id, r := range reg.rings {
		if !r.Contains(machine) {
			continue
		}
		wasLeader := r.IsLeader(machine)
		updated := r.withoutMember(machine)
		reg.rings[id] = updated
		return updated, wasLeader, true
	}
	return Ring{}, false, false
}

// RemoveRing deletes ring id entirely and returns the members it had, so
// the caller can mark each of them DeadUnavailable in cluster state —
// the fallback path when a ring loses quorum rather than just its leader.
func (reg *Registry) RemoveRing(id string) []ids.MachineID {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rings[id]
	if !ok {
		return nil
	}
	delete(reg.rings, id)
	return r.Members
}

// All returns every ring currently registered.
func (reg *Registry) All() []Ring {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]Ring, 0, len(reg.rings))
	for _, r := range reg.rings {
		out = append(out, r)
	}
	return out
}
