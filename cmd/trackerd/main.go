// Command trackerd runs one machine's content tracker: cluster-state
// membership, the local/distributed content index, and the gRPC surface
// peers and content sources talk to.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/buildcache/contenttracker/internal/backingcache"
	"github.com/buildcache/contenttracker/internal/buildring"
	"github.com/buildcache/contenttracker/internal/clusterclock"
	"github.com/buildcache/contenttracker/internal/clusterstate"
	"github.com/buildcache/contenttracker/internal/config"
	"github.com/buildcache/contenttracker/internal/disttracker"
	"github.com/buildcache/contenttracker/internal/ids"
	"github.com/buildcache/contenttracker/internal/localtracker"
	"github.com/buildcache/contenttracker/internal/logging"
	"github.com/buildcache/contenttracker/internal/shardmgr"
	"github.com/buildcache/contenttracker/internal/telemetry"
	"github.com/buildcache/contenttracker/internal/transport"
)

const version = "0.1.0"

func main() {
	_, shutdown := telemetry.Setup()
	defer func() { _ = shutdown(context.Background()) }()

	if err := logging.Configure(logging.LevelInfo); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	slog.Info("trackerd starting", "instance", uuid.NewString())

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var listen string
	var selfID uint32
	var dataDir string
	var configPath string
	var seed string
	var debug bool

	cmd := &cobra.Command{
		Use:     "trackerd",
		Short:   "Distributed content tracker daemon",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, runOpts{
				listen:     listen,
				selfID:     ids.MachineID(selfID),
				dataDir:    dataDir,
				configPath: configPath,
				seed:       seed,
			})
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:7070", "Address to serve the tracker gRPC service on")
	cmd.Flags().Uint32Var(&selfID, "self-id", 1, "This machine's cluster id, used only when --seed is not given")
	cmd.Flags().StringVar(&dataDir, "data-dir", "/var/lib/trackerd", "Directory for the backing cache database")
	cmd.Flags().StringVar(&configPath, "config", "/etc/trackerd/config.yaml", "Path to the tunables config file")
	cmd.Flags().StringVar(&seed, "seed", "", "Address of an already-running trackerd to join through; omit to bootstrap a new cluster")
	return cmd
}

type runOpts struct {
	listen     string
	selfID     ids.MachineID
	dataDir    string
	configPath string
	seed       string
}

func run(ctx context.Context, opts runOpts) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	loc := ids.Canonicalize(opts.listen)

	var self ids.MachineID
	var broker *clusterstate.Broker
	if opts.seed != "" {
		id, snapshot, err := joinCluster(ctx, opts.seed, loc)
		if err != nil {
			return fmt.Errorf("join cluster via %s: %w", opts.seed, err)
		}
		self = id
		broker = clusterstate.NewBroker(snapshot)
		slog.Info("trackerd joined cluster", "seed", opts.seed, "self", self)
	} else {
		self = opts.selfID
		broker = clusterstate.NewBroker(clusterstate.ForceRegisterMachine(clusterstate.Empty(), self, loc, time.Now()))
	}

	go runLivenessLoop(ctx, broker, cfg.Liveness())
	go runSelfHeartbeat(ctx, broker, self, cfg.HeartbeatInterval)

	clock := clusterclock.NewHealthSampler(cfg.NTPServer)
	go runClockSampler(ctx, clock)

	shards := shardmgr.NewManager()
	rings := buildring.NewRegistry()
	go runMembershipProjector(ctx, broker, shards, rings)

	if opts.seed != "" {
		go runGossipSync(ctx, broker, opts.seed, loc, cfg.HeartbeatInterval*4)
	}

	local := localtracker.New(self, clusterclock.RealClock{}, cfg.ShardStripes)

	if err := os.MkdirAll(opts.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	cache, err := backingcache.Open(filepath.Join(opts.dataDir, "cache.db"))
	if err != nil {
		return fmt.Errorf("open backing cache: %w", err)
	}
	defer func() { _ = cache.Close() }()

	locator := transport.NewBrokerLocator(broker)
	remote := transport.NewRemoteDialer(locator).WithTimeouts(cfg.RemoteConstructionTimeout, cfg.MaxRemoteWait)
	defer remote.Close()

	tracker := disttracker.New(self, local, rings, shards, remote)
	tracker.SetLocator(locator)
	tracker.SetFallback(cache)
	tracker.SetBatching(cfg.EventBatchSize, cfg.EventNagleInterval)
	server := transport.NewServer(tracker, broker)
	server.SetRecorder(cache)
	server.SetLiveness(cfg.Liveness())

	grpcServer := grpc.NewServer(telemetry.ServerOptions()...)
	transport.RegisterTrackerService(grpcServer, server)

	ln, err := net.Listen("tcp", opts.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", opts.listen, err)
	}

	go func() {
		<-ctx.Done()
		grpcServer.GracefulStop()
	}()

	slog.Info("trackerd listening", "addr", opts.listen, "self", self)
	if err := grpcServer.Serve(ln); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// runLivenessLoop periodically applies the inactivity table to the
// cluster broker, the way spec.md §5's transition_inactive is meant to
// run on a timer rather than only in response to heartbeats.
func runLivenessLoop(ctx context.Context, broker *clusterstate.Broker, cfg clusterstate.LivenessConfig) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			broker.Apply(clusterstate.TransitionInactive(broker.Current(), cfg, time.Now()))
		}
	}
}

// runSelfHeartbeat keeps this machine's own record Open by refreshing its
// LastBeat at heartbeat_interval (spec.md §5's timeout table). Without
// this a live daemon would silently age through runLivenessLoop's own
// Open→Closed→DeadExpired table while still serving RPCs.
func runSelfHeartbeat(ctx context.Context, broker *clusterstate.Broker, self ids.MachineID, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			next, _, err := clusterstate.Heartbeat(broker.Current(), self, time.Now(), clusterstate.Open)
			if err != nil {
				slog.Error("self heartbeat failed", "err", err)
				continue
			}
			broker.Apply(next)
		}
	}
}

// joinCluster dials an already-running trackerd at seed and registers loc
// against it, so a second (or third, or Nth) process can learn its
// assigned machine id and the cluster's current membership without an
// operator hand-assigning --self-id (spec.md §4.3's register_machine,
// crossing a process boundary for the first time).
func joinCluster(ctx context.Context, seed string, loc ids.Location) (ids.MachineID, clusterstate.Snapshot, error) {
	conn, err := grpc.NewClient(seed, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return 0, clusterstate.Snapshot{}, fmt.Errorf("dial seed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	resp, err := transport.NewClient(conn).RegisterMachine(ctx, &transport.RegisterMachineRequest{Location: loc})
	if err != nil {
		return 0, clusterstate.Snapshot{}, fmt.Errorf("register with seed: %w", err)
	}
	return resp.ID, resp.Snapshot, nil
}

// runMembershipProjector keeps shards and rings in step with cluster
// state as the broker publishes new snapshots (spec.md §4.4/§4.5), the
// production wiring for clusterstate.Broker.Subscribe: every available
// machine is a DHT shard candidate, and the whole available set forms
// the single default ring this topology runs with.
func runMembershipProjector(ctx context.Context, broker *clusterstate.Broker, shards *shardmgr.Manager, rings *buildring.Registry) {
	ch, unsubscribe := broker.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-ch:
			if !ok {
				return
			}
			applyMembership(snapshot, shards, rings)
		}
	}
}

func applyMembership(snapshot clusterstate.Snapshot, shards *shardmgr.Manager, rings *buildring.Registry) {
	var members []ids.MachineID
	for _, rec := range snapshot.Records() {
		shards.SetAvailable(rec.ID, rec.Phase.Available())
		if rec.Phase.Available() {
			members = append(members, rec.ID)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	rings.Upsert("default", members)
}

// runGossipSync periodically pulls every known peer's cluster-state
// snapshot and merges it into broker, so membership and liveness changes
// observed by one process eventually reach every other one even without
// a full broadcast tree (spec.md §5's "every piece of state eventually
// reaches every machine"). The seed is always polled directly since it
// is reachable by address alone; once self has peers on record, those
// are polled too by resolving their own advertised location.
func runGossipSync(ctx context.Context, broker *clusterstate.Broker, seed string, self ids.Location, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gossipOnce(ctx, broker, seed, self)
		}
	}
}

func gossipOnce(ctx context.Context, broker *clusterstate.Broker, seed string, self ids.Location) {
	locations := map[ids.Location]struct{}{ids.Canonicalize(seed): {}}
	for _, rec := range broker.Current().Records() {
		if rec.Phase.Available() {
			locations[rec.Location] = struct{}{}
		}
	}
	delete(locations, self)

	for loc := range locations {
		snapshot, err := fetchSnapshot(ctx, loc)
		if err != nil {
			slog.Warn("gossip sync failed", "peer", loc, "err", err)
			continue
		}
		broker.Apply(clusterstate.Merge(broker.Current(), snapshot))
	}
}

func fetchSnapshot(ctx context.Context, loc ids.Location) (clusterstate.Snapshot, error) {
	conn, err := grpc.NewClient(string(loc), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return clusterstate.Snapshot{}, err
	}
	defer func() { _ = conn.Close() }()

	resp, err := transport.NewClient(conn).FetchSnapshot(ctx, &transport.FetchSnapshotRequest{})
	if err != nil {
		return clusterstate.Snapshot{}, err
	}
	return resp.Snapshot, nil
}

// runClockSampler refreshes the NTP health sample once a minute; no RPC or
// CLI command reads the sample back.
func runClockSampler(ctx context.Context, h *clusterclock.HealthSampler) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	h.Sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Sample()
		}
	}
}
