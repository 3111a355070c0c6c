// Package clusterstate implements the cluster-state machine: a pure,
// immutable-value state of machine identifiers, their network locations,
// and their liveness, plus the transitions spec.md §4.3 defines over it.
// Every mutator takes a Snapshot and returns a new Snapshot — callers
// never observe a torn update, and old subscribers may keep using a stale
// snapshot until the broker notifies them of the next one.
package clusterstate

import (
	"time"

	"github.com/buildcache/contenttracker/internal/ids"
)

// Phase is the liveness phase of a machine Record.
type Phase uint8

const (
	// Open is the initial phase: the machine is registered and heartbeating.
	Open Phase = iota
	// Closed means the machine stopped heartbeating recently; still
	// reachable in principle, but no longer an active participant.
	Closed
	// DeadUnavailable means the machine has been unreachable long enough
	// that its id is eligible for reclamation by a different location.
	DeadUnavailable
	// DeadExpired means the machine has been inactive long enough that it
	// is considered permanently gone.
	DeadExpired
)

func (p Phase) String() string {
	switch p {
	case Open:
		return "Open"
	case Closed:
		return "Closed"
	case DeadUnavailable:
		return "DeadUnavailable"
	case DeadExpired:
		return "DeadExpired"
	default:
		return "Unknown"
	}
}

// Available reports whether a shard list should still consider a machine
// in this phase a routing candidate (spec.md §4.4).
func (p Phase) Available() bool {
	return p == Open || p == Closed
}

// dead reports whether p is one of the terminal "machine is gone" phases.
func (p Phase) dead() bool {
	return p == DeadUnavailable || p == DeadExpired
}

// Record is one machine's entry in the cluster state: its id, location,
// liveness phase, and last heartbeat time. generation is bumped whenever
// the id is reclaimed for a new location, so it counts how many times the
// id has changed hands (see SPEC_FULL.md §9). Heartbeat does not compare it.
type Record struct {
	ID         ids.MachineID
	Location   ids.Location
	Phase      Phase
	LastBeat   time.Time
	generation uint64
}

// Generation returns the reclamation counter for this record: it starts at
// zero and increments every time the id is reclaimed for a new location.
// It is carried on the wire with the record. No code path compares it
// against a generation a caller remembers, so a stale heartbeat from a
// reclaimed id's prior holder is not rejected.
func (r Record) Generation() uint64 {
	return r.generation
}

// WithGeneration returns a copy of r with its generation counter set to
// gen. Used by the wire codec to reconstitute a Record whose generation
// was transmitted explicitly, rather than derived locally via reclamation.
func (r Record) WithGeneration(gen uint64) Record {
	r.generation = gen
	return r
}
