package clusterstate

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSnapshotJSONRoundTripMatchesContract(t *testing.T) {
	t.Parallel()

	snap := Empty()
	snap.NextMachineID = 2
	snap = snap.withRecord(Record{
		ID:       1,
		Location: "grpc://node:1234/",
		Phase:    Open,
		LastBeat: time.Time{},
	})

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"NextMachineId":2,"Records":[{"Id":1,"Location":"grpc://node:1234/","State":"Open","LastHeartbeatTimeUtc":"0001-01-01T00:00:00"}]}`
	if string(data) != want {
		t.Fatalf("Marshal() = %s, want %s", data, want)
	}

	var back Snapshot
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	rec, ok := back.Lookup(1)
	if !ok || rec.Location != "grpc://node:1234/" || rec.Phase != Open {
		t.Fatalf("round trip mismatch: %+v", rec)
	}
}

func TestSnapshotJSONIgnoresUnknownFields(t *testing.T) {
	t.Parallel()
	data := []byte(`{"NextMachineId":1,"Records":[],"FutureField":"whatever"}`)
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("Unmarshal with unknown field: %v", err)
	}
	if s.NextMachineID != 1 {
		t.Fatalf("NextMachineID = %d, want 1", s.NextMachineID)
	}
}
