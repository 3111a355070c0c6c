package integration

import (
	"testing"
	"time"

	"github.com/buildcache/contenttracker/internal/clusterstate"
)

// S6 — Id reclamation. node1 registers and gets id 1. Once the clock has
// advanced past active_to_unavailable, node1 is still Open (nothing has
// transitioned it yet), so node2 registering must get a fresh id, not a
// reclaim of id 1. Only once transition_inactive has actually run and
// moved id 1 to DeadUnavailable does a third registration reclaim it.
func TestS6IdReclamationRequiresDeadUnavailable(t *testing.T) {
	t.Parallel()
	cfg := clusterstate.DefaultLivenessConfig()
	now := time.Unix(1700000000, 0)

	s := clusterstate.Empty()
	s, node1 := clusterstate.RegisterMachine(s, cfg, "grpc://node1:7070/", now)
	if node1 != 1 {
		t.Fatalf("node1 id = %d, want 1", node1)
	}

	now = now.Add(cfg.ActiveToUnavailable + time.Second)

	s, node2 := clusterstate.RegisterMachine(s, cfg, "grpc://node2:7070/", now)
	if node2 != 2 {
		t.Fatalf("node2 id = %d, want 2 (id 1 still Open, not reclaimable yet)", node2)
	}
	if rec, ok := s.Lookup(1); !ok || rec.Phase != clusterstate.Open {
		t.Fatalf("id 1 should still be Open before transition_inactive runs, got %+v", rec)
	}

	s = clusterstate.TransitionInactive(s, cfg, now)
	if rec, ok := s.Lookup(1); !ok || rec.Phase != clusterstate.DeadUnavailable {
		t.Fatalf("id 1 should be DeadUnavailable after transition_inactive, got %+v", rec)
	}

	s, node3 := clusterstate.RegisterMachine(s, cfg, "grpc://node3:7070/", now)
	if node3 != 1 {
		t.Fatalf("node3 id = %d, want 1 (reclaimed)", node3)
	}
	rec, ok := s.Lookup(1)
	if !ok || rec.Location != "grpc://node3:7070/" || rec.Phase != clusterstate.Open {
		t.Fatalf("reclaimed record = %+v, want node3's location and Open", rec)
	}
	if rec.Generation() != 1 {
		t.Fatalf("Generation() = %d, want 1 after one reclamation", rec.Generation())
	}
}
