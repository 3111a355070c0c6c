package transport

import (
	"testing"
	"time"

	"github.com/buildcache/contenttracker/internal/clusterstate"
	"github.com/buildcache/contenttracker/internal/contentindex"
	"github.com/buildcache/contenttracker/internal/ids"
	"github.com/buildcache/contenttracker/internal/stamp"
)

func TestUpdateLocationsRequestRoundTrip(t *testing.T) {
	t.Parallel()
	e1 := contentindex.Single("h1", 1, stamp.New(1, time.Unix(1, 0).UTC(), stamp.Add), 10)
	e2 := contentindex.Single("h2", 2, stamp.New(2, time.Unix(2, 0).UTC(), stamp.Add), 20)
	req := &UpdateLocationsRequest{Entries: []contentindex.Entry{e1, e2}}

	data, err := req.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	got := new(UpdateLocationsRequest)
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if len(got.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(got.Entries))
	}
}

func TestGetLocationsRequestRoundTrip(t *testing.T) {
	t.Parallel()
	req := &GetLocationsRequest{Hashes: []ids.Hash{"a", "b", "c"}}
	data, err := req.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	got := new(GetLocationsRequest)
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if len(got.Hashes) != 3 || got.Hashes[1] != "b" {
		t.Fatalf("got %+v, want [a b c]", got.Hashes)
	}
}

func TestFetchSnapshotResponseRoundTrip(t *testing.T) {
	t.Parallel()
	now := time.Unix(0, 0).UTC()
	s, _ := clusterstate.RegisterMachine(clusterstate.Empty(), clusterstate.DefaultLivenessConfig(), "grpc://x/", now)
	resp := &FetchSnapshotResponse{Snapshot: s}

	data, err := resp.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	got := new(FetchSnapshotResponse)
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got.Snapshot.NextMachineID != s.NextMachineID {
		t.Fatalf("NextMachineID mismatch: got %d, want %d", got.Snapshot.NextMachineID, s.NextMachineID)
	}
}

func TestCodecMarshalUnmarshalRoundTrip(t *testing.T) {
	t.Parallel()
	var c Codec
	req := &GetLocationsRequest{Hashes: []ids.Hash{"h"}}
	data, err := c.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got := new(GetLocationsRequest)
	if err := c.Unmarshal(data, got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.Hashes) != 1 || got.Hashes[0] != "h" {
		t.Fatalf("got %+v", got.Hashes)
	}
}

func TestCodecRejectsNonWireMessage(t *testing.T) {
	t.Parallel()
	var c Codec
	if _, err := c.Marshal(struct{}{}); err == nil {
		t.Fatal("expected error marshaling a non-wireMessage value")
	}
}
