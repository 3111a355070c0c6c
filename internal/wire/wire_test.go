package wire

import (
	"testing"
	"time"

	"github.com/buildcache/contenttracker/internal/clusterstate"
	"github.com/buildcache/contenttracker/internal/contentindex"
	"github.com/buildcache/contenttracker/internal/ids"
	"github.com/buildcache/contenttracker/internal/stamp"
)

func TestStampRoundTrip(t *testing.T) {
	t.Parallel()
	s := stamp.New(7, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), stamp.Delete)
	got, err := UnmarshalStamp(MarshalStamp(s))
	if err != nil {
		t.Fatalf("UnmarshalStamp: %v", err)
	}
	if got.Sequence != s.Sequence || !got.Timestamp.Equal(s.Timestamp) || got.Op != s.Op {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, s)
	}
}

func TestEntryRoundTripPreservesTombstones(t *testing.T) {
	t.Parallel()
	e := contentindex.New("h1")
	e.Size = 1234
	e.Ops[1] = stamp.New(1, time.Unix(1000, 0).UTC(), stamp.Add)
	e.Ops[2] = stamp.New(3, time.Unix(2000, 0).UTC(), stamp.Delete)

	got, err := UnmarshalEntry(MarshalEntry(e))
	if err != nil {
		t.Fatalf("UnmarshalEntry: %v", err)
	}
	if got.Hash != e.Hash || got.Size != e.Size {
		t.Fatalf("hash/size mismatch: got %+v, want %+v", got, e)
	}
	if !got.Contains(1) {
		t.Fatal("expected machine 1 to survive round trip as Add")
	}
	if !got.Tombstoned(2) {
		t.Fatal("expected machine 2 to survive round trip as Delete, not be dropped")
	}
}

func TestRecordRoundTripPreservesGeneration(t *testing.T) {
	t.Parallel()
	r := clusterstate.Record{
		ID:       5,
		Location: "grpc://node:1234/",
		Phase:    clusterstate.Closed,
		LastBeat: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	}.WithGeneration(2)

	got, err := UnmarshalRecord(MarshalRecord(r))
	if err != nil {
		t.Fatalf("UnmarshalRecord: %v", err)
	}
	if got.ID != r.ID || got.Location != r.Location || got.Phase != r.Phase || got.Generation() != 2 {
		t.Fatalf("round trip mismatch: got %+v (gen %d), want %+v (gen 2)", got, got.Generation(), r)
	}
	if !got.LastBeat.Equal(r.LastBeat) {
		t.Fatalf("LastBeat mismatch: got %v, want %v", got.LastBeat, r.LastBeat)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, id1 := clusterstate.RegisterMachine(clusterstate.Empty(), clusterstate.DefaultLivenessConfig(), "grpc://a/", now)
	s, id2 := clusterstate.RegisterMachine(s, clusterstate.DefaultLivenessConfig(), "grpc://b/", now)

	got, err := UnmarshalSnapshot(MarshalSnapshot(s))
	if err != nil {
		t.Fatalf("UnmarshalSnapshot: %v", err)
	}
	if got.NextMachineID != s.NextMachineID {
		t.Fatalf("NextMachineID mismatch: got %d, want %d", got.NextMachineID, s.NextMachineID)
	}
	for _, id := range []ids.MachineID{id1, id2} {
		want, _ := s.Lookup(id)
		gotRec, ok := got.Lookup(id)
		if !ok || gotRec.Location != want.Location {
			t.Fatalf("record %d missing or mismatched after round trip: %+v", id, gotRec)
		}
	}
}
