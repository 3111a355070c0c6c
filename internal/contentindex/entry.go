// Package contentindex implements the merged per-hash location record
// (ContentEntry) and its deterministic, state-based-CRDT merge algebra.
// See the gocrdt-style sequence CRDT this package borrows its registry/
// tombstone shape from: entries never physically drop an operation on
// merge, they replace it with whichever stamp wins under stamp.Compare.
package contentindex

import (
	"github.com/buildcache/contenttracker/internal/ids"
	"github.com/buildcache/contenttracker/internal/stamp"
)

// UnknownSize is the sentinel for "no machine has reported a size yet".
const UnknownSize int64 = -1

// Entry is the merged per-hash record: the most recent stamped operation
// from every machine that has ever mutated this hash, plus the largest
// size any machine has observed.
type Entry struct {
	Hash ids.Hash
	Size int64
	Ops  map[ids.MachineID]stamp.Stamp
}

// New creates an empty entry for hash, with an unknown size and no
// operations. It is the identity element for Merge.
func New(hash ids.Hash) Entry {
	return Entry{Hash: hash, Size: UnknownSize, Ops: make(map[ids.MachineID]stamp.Stamp)}
}

// Single builds a one-operation entry, as minted locally by
// localtracker.Tracker.ProcessLocalChange.
func Single(hash ids.Hash, machine ids.MachineID, st stamp.Stamp, size int64) Entry {
	e := New(hash)
	e.Size = size
	e.Ops[machine] = st
	return e
}

// Clone returns a deep copy so callers can mutate the result without
// aliasing the receiver's map.
func (e Entry) Clone() Entry {
	out := Entry{Hash: e.Hash, Size: e.Size, Ops: make(map[ids.MachineID]stamp.Stamp, len(e.Ops))}
	for m, st := range e.Ops {
		out.Ops[m] = st
	}
	return out
}

// Empty reports whether the entry carries no surviving (i.e. Add) machine
// locations. A hash with only tombstones is "empty" for placement
// purposes but the tombstones themselves are retained until superseded.
func (e Entry) Empty() bool {
	for _, st := range e.Ops {
		if st.Op == stamp.Add {
			return false
		}
	}
	return true
}

// Contains reports whether machine currently holds the content (its
// surviving stamp is an Add).
func (e Entry) Contains(machine ids.MachineID) bool {
	st, ok := e.Ops[machine]
	return ok && st.Op == stamp.Add
}

// Tombstoned reports whether machine's surviving stamp for this hash is a
// Delete.
func (e Entry) Tombstoned(machine ids.MachineID) bool {
	st, ok := e.Ops[machine]
	return ok && st.Op == stamp.Delete
}

// Locations returns the machines currently holding the content, in no
// particular order.
func (e Entry) Locations() []ids.MachineID {
	out := make([]ids.MachineID, 0, len(e.Ops))
	for m, st := range e.Ops {
		if st.Op == stamp.Add {
			out = append(out, m)
		}
	}
	return out
}

// mergeSize applies the "largest non-negative size observed" rule,
// treating UnknownSize as the identity.
func mergeSize(a, b int64) int64 {
	if a == UnknownSize {
		return b
	}
	if b == UnknownSize {
		return a
	}
	if a > b {
		return a
	}
	return b
}
