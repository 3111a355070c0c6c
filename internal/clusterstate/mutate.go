package clusterstate

import (
	"time"

	"github.com/buildcache/contenttracker/internal/errkind"
	"github.com/buildcache/contenttracker/internal/ids"
)

// RegisterMachine implements spec.md §4.3's register_machine: if location
// already has an Open or Closed record, its id is returned unchanged. If
// no such record exists but an id is reclaimable (dead and inactive past
// the configured threshold), the smallest reclaimable id is reused and
// its generation is bumped. Otherwise a fresh id is allocated from
// NextMachineID.
func RegisterMachine(s Snapshot, cfg LivenessConfig, loc ids.Location, now time.Time) (Snapshot, ids.MachineID) {
	if existing, ok := s.byLocation(loc); ok && existing.Phase.Available() {
		return s, existing.ID
	}

	if reclaimID, ok := s.reclaimableID(now, cfg.ActiveToUnavailable); ok {
		prior := s.records[reclaimID]
		rec := Record{
			ID:         reclaimID,
			Location:   loc,
			Phase:      Open,
			LastBeat:   now,
			generation: prior.generation + 1,
		}
		return s.withRecord(rec), reclaimID
	}

	id := s.NextMachineID
	out := s.clone()
	out.NextMachineID = id + 1
	out.records[id] = Record{ID: id, Location: loc, Phase: Open, LastBeat: now}
	return out, id
}

// ForceRegisterMachine implements force_register_machine: an unconditional
// upsert used only when migrating machine identities in from a legacy
// scheme. It never reclaims — it overwrites whatever is at id — and it
// raises NextMachineID to stay ahead of every id force-registered so far.
func ForceRegisterMachine(s Snapshot, id ids.MachineID, loc ids.Location, now time.Time) Snapshot {
	out := s.clone()
	prior := out.records[id]
	out.records[id] = Record{ID: id, Location: loc, Phase: Open, LastBeat: now, generation: prior.generation}
	if next := id + 1; next > out.NextMachineID {
		out.NextMachineID = next
	}
	return out
}

// Heartbeat implements heartbeat: updates last-heartbeat-time and phase
// for id, returning the previous phase. Fails with UnknownMachine only if
// id is absent. No generation is compared: a heartbeat against an id that
// has since been reclaimed for a different location updates the new
// holder's record.
func Heartbeat(s Snapshot, id ids.MachineID, now time.Time, desired Phase) (Snapshot, Phase, error) {
	rec, ok := s.records[id]
	if !ok {
		return s, 0, errkind.New(errkind.UnknownMachine, "Heartbeat", id.String()+" is not registered")
	}
	previous := rec.Phase
	rec.Phase = desired
	rec.LastBeat = now
	return s.withRecord(rec), previous, nil
}

// RegisterMany applies RegisterMachine to every location in turn,
// threading the snapshot through so that two locations in the same batch
// never race for the same reclaimed id (spec.md §4.3's register_many).
// Reclamation of an id whose record is still Open or Closed is never
// allowed — reclaimableID already enforces this, but register_many is the
// operation the spec calls out by name for that guarantee.
func RegisterMany(s Snapshot, cfg LivenessConfig, locs []ids.Location, now time.Time) (Snapshot, []ids.MachineID) {
	out := s
	assigned := make([]ids.MachineID, len(locs))
	for i, loc := range locs {
		var id ids.MachineID
		out, id = RegisterMachine(out, cfg, loc, now)
		assigned[i] = id
	}
	return out, assigned
}

// TransitionInactive implements transition_inactive: applies the liveness
// table in spec.md §4.3 to every record. Expired is evaluated before
// Closed so a record inactive long enough skips Closed entirely, matching
// the "ActiveToExpired after cfg.ActiveToExpired" test property.
func TransitionInactive(s Snapshot, cfg LivenessConfig, now time.Time) Snapshot {
	out := s.clone()
	for id, rec := range out.records {
		elapsed := now.Sub(rec.LastBeat)
		switch rec.Phase {
		case Open:
			switch {
			case elapsed >= cfg.ActiveToExpired:
				rec.Phase = DeadExpired
			case elapsed >= cfg.ActiveToUnavailable:
				rec.Phase = DeadUnavailable
			case elapsed >= cfg.ActiveToClosed:
				rec.Phase = Closed
			}
		case Closed:
			if elapsed >= cfg.ClosedToExpired {
				rec.Phase = DeadExpired
			}
		}
		out.records[id] = rec
	}
	return out
}
