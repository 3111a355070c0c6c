package transport

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/buildcache/contenttracker/internal/clusterstate"
	"github.com/buildcache/contenttracker/internal/contentindex"
	"github.com/buildcache/contenttracker/internal/disttracker"
	"github.com/buildcache/contenttracker/internal/errkind"
	"github.com/buildcache/contenttracker/internal/ids"
	"github.com/buildcache/contenttracker/internal/stamp"
)

// Recorder durably persists a hash's last known location, so a scenario
// like spec.md §8's S4 (a ring removed entirely) still has somewhere to
// answer from. Satisfied structurally by backingcache.Store.
type Recorder interface {
	Record(hash ids.Hash, loc ids.Location, size int64) error
}

// Server implements TrackerService over a machine's Distributed Tracker
// and cluster-state broker.
type Server struct {
	tracker  *disttracker.Tracker
	cluster  *clusterstate.Broker
	liveness clusterstate.LivenessConfig
	recorder Recorder
}

// NewServer wires tracker (content location) and cluster (machine
// liveness) into a gRPC-facing Server. tracker's Locator and Fallback
// should already be set by the caller (SetLocator/SetFallback) if the
// ring-removal read path (spec.md §8 scenario S4) is wanted.
func NewServer(tracker *disttracker.Tracker, cluster *clusterstate.Broker) *Server {
	return &Server{tracker: tracker, cluster: cluster}
}

// SetLiveness wires in the liveness thresholds RegisterMachine consults
// to decide whether a dead id may be reclaimed for a newly joining
// location. Defaults to the zero LivenessConfig (no reclamation window)
// until set.
func (s *Server) SetLiveness(cfg clusterstate.LivenessConfig) {
	s.liveness = cfg
}

// SetRecorder wires in the durable store every successfully merged entry
// is mirrored into, best-effort, so later ring-removal or late-join reads
// have something to fall back on.
func (s *Server) SetRecorder(r Recorder) {
	s.recorder = r
}

// record mirrors every machine currently holding entry's content into the
// durable store, logging rather than failing the caller on error — the
// durable store is a fallback, never the source of truth.
func (s *Server) record(entry contentindex.Entry) {
	if s.recorder == nil {
		return
	}
	for _, machine := range entry.Locations() {
		rec, ok := s.cluster.Current().Lookup(machine)
		if !ok {
			continue
		}
		if err := s.recorder.Record(entry.Hash, rec.Location, entry.Size); err != nil {
			slog.Warn("transport: failed to record backing cache entry", "hash", entry.Hash, "err", err)
		}
	}
}

// ResolveLocation exposes the distributed tracker's backing-cache-aware
// read path directly, for an in-process content placement caller (not
// over gRPC — like ProcessLocalChange, this is a local collaborator
// boundary rather than a peer-to-peer RPC).
func (s *Server) ResolveLocation(ctx context.Context, hash ids.Hash) (ids.Location, int64, bool, error) {
	return s.tracker.ResolveLocation(ctx, hash)
}

func (s *Server) UpdateLocations(ctx context.Context, req *UpdateLocationsRequest) (*UpdateLocationsResponse, error) {
	if err := s.tracker.IngestForwarded(ctx, req.Entries); err != nil {
		return nil, toGRPCError(err)
	}
	for _, e := range req.Entries {
		s.record(e)
	}
	return &UpdateLocationsResponse{}, nil
}

func (s *Server) GetLocations(ctx context.Context, req *GetLocationsRequest) (*GetLocationsResponse, error) {
	entries, err := s.tracker.GetLocations(ctx, req.Hashes)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &GetLocationsResponse{Entries: entries}, nil
}

func (s *Server) FetchSnapshot(ctx context.Context, req *FetchSnapshotRequest) (*FetchSnapshotResponse, error) {
	return &FetchSnapshotResponse{Snapshot: s.cluster.Current()}, nil
}

// RegisterMachine admits req.Location into cluster state (spec.md §4.3's
// register_machine), the RPC a joining daemon calls against a seed peer.
// The response carries both the assigned id and a full snapshot so the
// caller can bootstrap its own broker without a second round trip.
func (s *Server) RegisterMachine(ctx context.Context, req *RegisterMachineRequest) (*RegisterMachineResponse, error) {
	next, id := clusterstate.RegisterMachine(s.cluster.Current(), s.liveness, req.Location, time.Now())
	s.cluster.Apply(next)
	return &RegisterMachineResponse{ID: id, Snapshot: next}, nil
}

// ProcessLocalChange is invoked directly by an in-process content source
// (not over gRPC — spec.md §6's external collaborator boundary), so it
// lives on Server rather than the RPC-only TrackerService interface.
func (s *Server) ProcessLocalChange(ctx context.Context, op stamp.Operation, hash ids.Hash, size int64) error {
	entry, err := s.tracker.ProcessLocalChange(ctx, op, hash, size)
	if err != nil {
		return err
	}
	s.record(entry)
	return nil
}

// toGRPCError maps the tracker's error-kind sum type onto gRPC status
// codes, the same boundary role the teacher's own toGRPCError plays for
// its mesh errors.
func toGRPCError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errkind.Is(err, errkind.UnknownMachine):
		return status.Error(codes.NotFound, err.Error())
	case errkind.Is(err, errkind.NoShards):
		return status.Error(codes.Unavailable, err.Error())
	case errkind.Is(err, errkind.Transient):
		return status.Error(codes.Unavailable, err.Error())
	case errkind.Is(err, errkind.PermanentRejected):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errkind.Is(err, errkind.Cancelled):
		return status.Error(codes.Canceled, err.Error())
	case errkind.Is(err, errkind.Corrupted):
		return status.Error(codes.DataLoss, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
