package contentindex

import (
	"github.com/buildcache/contenttracker/internal/ids"
	"github.com/buildcache/contenttracker/internal/stamp"
)

// Merge combines a and b (which must describe the same hash) into the
// deterministic result both replicas converge on regardless of delivery
// order: size takes the max (treating UnknownSize as bottom), and each
// machine keeps whichever stamped operation is greater under
// stamp.Compare. Merge is idempotent, commutative, and associative — the
// three properties that make this a state-based CRDT.
func Merge(a, b Entry) Entry {
	out := Entry{
		Hash: a.Hash,
		Size: mergeSize(a.Size, b.Size),
		Ops:  make(map[ids.MachineID]stamp.Stamp, len(a.Ops)+len(b.Ops)),
	}
	for m, st := range a.Ops {
		out.Ops[m] = st
	}
	for m, st := range b.Ops {
		cur, ok := out.Ops[m]
		if !ok || stamp.GreaterThan(st, cur) {
			out.Ops[m] = st
		}
	}
	return out
}

// MergeAll folds Merge over rest, starting from first. Used when combining responses gathered from several hops
// (local + ring leader + DHT owner) into one observable result.
func MergeAll(first Entry, rest ...Entry) Entry {
	out := first
	for _, e := range rest {
		out = Merge(out, e)
	}
	return out
}
