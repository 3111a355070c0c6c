package transport

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/buildcache/contenttracker/internal/backingcache"
	"github.com/buildcache/contenttracker/internal/buildring"
	"github.com/buildcache/contenttracker/internal/clusterclock"
	"github.com/buildcache/contenttracker/internal/clusterstate"
	"github.com/buildcache/contenttracker/internal/contentindex"
	"github.com/buildcache/contenttracker/internal/disttracker"
	"github.com/buildcache/contenttracker/internal/ids"
	"github.com/buildcache/contenttracker/internal/localtracker"
	"github.com/buildcache/contenttracker/internal/shardmgr"
	"github.com/buildcache/contenttracker/internal/stamp"
)

type noopRemote struct{}

func (noopRemote) ForwardUpdate(ctx context.Context, target ids.MachineID, entries []contentindex.Entry) error {
	return nil
}

func (noopRemote) ForwardGet(ctx context.Context, target ids.MachineID, hashes []ids.Hash) ([]contentindex.Entry, error) {
	return nil, nil
}

func singleMachineServer(t *testing.T) (*Server, *backingcache.Store) {
	t.Helper()
	broker := clusterstate.NewBroker(clusterstate.ForceRegisterMachine(
		clusterstate.Empty(), 1, "grpc://self:7070/", time.Unix(0, 0)))

	shards := shardmgr.NewManager()
	shards.SetAvailable(1, true)
	rings := buildring.NewRegistry()
	rings.Upsert("default", []ids.MachineID{1})

	clk := clusterclock.NewFake(time.Unix(0, 0))
	local := localtracker.New(1, clk, 0)

	cache, err := backingcache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	tracker := disttracker.New(1, local, rings, shards, noopRemote{})
	tracker.SetLocator(NewBrokerLocator(broker))
	tracker.SetFallback(cache)

	srv := NewServer(tracker, broker)
	srv.SetRecorder(cache)
	return srv, cache
}

func TestProcessLocalChangeRecordsIntoBackingCache(t *testing.T) {
	t.Parallel()
	srv, cache := singleMachineServer(t)

	if err := srv.ProcessLocalChange(context.Background(), stamp.Add, "h1", 100); err != nil {
		t.Fatalf("ProcessLocalChange: %v", err)
	}

	loc, size, found, err := cache.Get("h1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || loc != "grpc://self:7070/" || size != 100 {
		t.Fatalf("Get(h1) = %q, %d, %v; want grpc://self:7070/, 100, true", loc, size, found)
	}
}

func TestResolveLocationReturnsLiveLocationWhenKnown(t *testing.T) {
	t.Parallel()
	srv, _ := singleMachineServer(t)

	if err := srv.ProcessLocalChange(context.Background(), stamp.Add, "h1", 64); err != nil {
		t.Fatalf("ProcessLocalChange: %v", err)
	}

	loc, size, found, err := srv.ResolveLocation(context.Background(), "h1")
	if err != nil {
		t.Fatalf("ResolveLocation: %v", err)
	}
	if !found || loc != "grpc://self:7070/" || size != 64 {
		t.Fatalf("ResolveLocation(h1) = %q, %d, %v; want grpc://self:7070/, 64, true", loc, size, found)
	}
}

func TestResolveLocationUnknownHashNotFound(t *testing.T) {
	t.Parallel()
	srv, _ := singleMachineServer(t)

	_, _, found, err := srv.ResolveLocation(context.Background(), "missing")
	if err != nil {
		t.Fatalf("ResolveLocation: %v", err)
	}
	if found {
		t.Fatal("expected found=false for a hash nothing ever recorded")
	}
}
