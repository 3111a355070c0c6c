package clusterstate

import (
	"time"

	"github.com/buildcache/contenttracker/internal/ids"
)

// Snapshot is the immutable cluster-state value: the next id to allocate
// and every known machine record, indexed by id. Mutators never modify a
// Snapshot in place; they return a new one, copy-on-write, so readers
// never block writers and never observe a partially-applied mutation.
type Snapshot struct {
	NextMachineID ids.MachineID
	records       map[ids.MachineID]Record
}

// Empty returns the initial cluster state: no machines registered, ids
// start at 1 (0 is reserved as "no id").
func Empty() Snapshot {
	return Snapshot{NextMachineID: 1, records: make(map[ids.MachineID]Record)}
}

// FromRecords rebuilds a Snapshot from a flat record list, as decoded off
// the wire for cluster-state bootstrap (a late-joining machine fetching
// the current snapshot wholesale rather than replaying every mutation).
func FromRecords(nextID ids.MachineID, records []Record) Snapshot {
	s := Snapshot{NextMachineID: nextID, records: make(map[ids.MachineID]Record, len(records))}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

// Records returns a defensive copy of every known machine record.
func (s Snapshot) Records() []Record {
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}

// Lookup returns the record for id, if any.
func (s Snapshot) Lookup(id ids.MachineID) (Record, bool) {
	r, ok := s.records[id]
	return r, ok
}

// byLocation finds a record currently at location, if one exists.
func (s Snapshot) byLocation(loc ids.Location) (Record, bool) {
	for _, r := range s.records {
		if r.Location == loc {
			return r, true
		}
	}
	return Record{}, false
}

// clone produces a new Snapshot sharing no mutable state with s.
func (s Snapshot) clone() Snapshot {
	out := Snapshot{NextMachineID: s.NextMachineID, records: make(map[ids.MachineID]Record, len(s.records))}
	for id, r := range s.records {
		out.records[id] = r
	}
	return out
}

// withRecord returns a clone of s with r upserted.
func (s Snapshot) withRecord(r Record) Snapshot {
	out := s.clone()
	out.records[r.ID] = r
	return out
}

// reclaimableID returns the smallest id whose record is in a dead phase
// (and has been for at least reclaimAfter), if any — the only ids
// RegisterMachine is allowed to reuse.
func (s Snapshot) reclaimableID(now time.Time, reclaimAfter time.Duration) (ids.MachineID, bool) {
	var best ids.MachineID
	found := false
	for id, r := range s.records {
		if !r.Phase.dead() {
			continue
		}
		if now.Sub(r.LastBeat) < reclaimAfter {
			continue
		}
		if !found || id < best {
			best = id
			found = true
		}
	}
	return best, found
}
