package buildring

import (
	"testing"

	"github.com/buildcache/contenttracker/internal/ids"
)

func TestLeaderIsFirstMember(t *testing.T) {
	t.Parallel()
	r := Ring{ID: "r1", Members: []ids.MachineID{1, 2, 3}}
	leader, ok := r.Leader()
	if !ok || leader != 1 {
		t.Fatalf("Leader() = %v, %v; want 1, true", leader, ok)
	}
	if !r.IsLeader(1) || r.IsLeader(2) {
		t.Fatal("IsLeader gave wrong answer")
	}
}

func TestDepartMemberPromotesNextLeader(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Upsert("r1", []ids.MachineID{1, 2, 3})

	updated, wasLeader, found := reg.DepartMember(1)
	if !found || !wasLeader {
		t.Fatalf("DepartMember(1) = found=%v wasLeader=%v", found, wasLeader)
	}
	leader, ok := updated.Leader()
	if !ok || leader != 2 {
		t.Fatalf("new leader = %v, want 2", leader)
	}
}

func TestDepartNonLeaderMemberKeepsLeader(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Upsert("r1", []ids.MachineID{1, 2, 3})

	updated, wasLeader, found := reg.DepartMember(2)
	if !found || wasLeader {
		t.Fatalf("DepartMember(2) = found=%v wasLeader=%v, want found=true wasLeader=false", found, wasLeader)
	}
	leader, _ := updated.Leader()
	if leader != 1 {
		t.Fatalf("leader changed unexpectedly to %v", leader)
	}
}

func TestRemoveRingReturnsMembersForCleanup(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Upsert("r1", []ids.MachineID{1, 2, 3})

	members := reg.RemoveRing("r1")
	if len(members) != 3 {
		t.Fatalf("RemoveRing returned %v, want 3 members", members)
	}
	if _, ok := reg.Get("r1"); ok {
		t.Fatal("ring should no longer be registered")
	}
}

func TestRingForFindsMembership(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Upsert("r1", []ids.MachineID{1, 2})
	reg.Upsert("r2", []ids.MachineID{3, 4})

	r, ok := reg.RingFor(3)
	if !ok || r.ID != "r2" {
		t.Fatalf("RingFor(3) = %+v, %v; want ring r2", r, ok)
	}
}
