package clusterstate

// Merge reconciles two snapshots learned independently — typically the
// local broker's own state and a peer's FetchSnapshot response polled
// over gossip — into one, the cluster-state half of spec.md §5's "every
// piece of state eventually reaches every machine" requirement.
//
// Per id, the record with the higher generation wins outright: a
// reclamation is a fact the losing side hasn't learned yet, never a
// conflict to arbitrate. Within the same generation, the record with the
// later LastBeat wins, since it is simply the more recent observation of
// the same machine's liveness. NextMachineID takes the larger of the two,
// so a merge never causes an id collision with one a peer has already
// handed out.
func Merge(a, b Snapshot) Snapshot {
	out := a.clone()
	if b.NextMachineID > out.NextMachineID {
		out.NextMachineID = b.NextMachineID
	}
	for id, br := range b.records {
		ar, ok := out.records[id]
		if !ok {
			out.records[id] = br
			continue
		}
		out.records[id] = mergeRecord(ar, br)
	}
	return out
}

func mergeRecord(a, b Record) Record {
	if b.generation != a.generation {
		if b.generation > a.generation {
			return b
		}
		return a
	}
	if b.LastBeat.After(a.LastBeat) {
		return b
	}
	return a
}
