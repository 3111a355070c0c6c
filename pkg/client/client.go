// Package client is the small SDK wrapping the tracker's gRPC surface,
// the way pkg/sdk/client wraps the daemon's control-plane RPCs: a thin
// API interface plus a Client implementing it, so trackerctl never
// touches internal/transport directly.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/buildcache/contenttracker/internal/clusterstate"
	"github.com/buildcache/contenttracker/internal/contentindex"
	"github.com/buildcache/contenttracker/internal/ids"
	"github.com/buildcache/contenttracker/internal/telemetry"
	"github.com/buildcache/contenttracker/internal/transport"
)

const envEndpoint = "CONTENTTRACKER_ENDPOINT"

// Sentinel errors a caller can match against with errors.Is, mirroring
// the daemon SDK's ErrNotFound/ErrUnavailable/ErrConflict boundary.
var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("unavailable")
	ErrConflict    = errors.New("conflict")
)

// DefaultEndpoint resolves the tracker endpoint to dial, preferring the
// environment override over a fixed default.
func DefaultEndpoint() string {
	if fromEnv := strings.TrimSpace(os.Getenv(envEndpoint)); fromEnv != "" {
		return fromEnv
	}
	return "127.0.0.1:7070"
}

// API is everything a caller can ask a running tracker for over the
// network.
type API interface {
	UpdateLocations(ctx context.Context, entries []contentindex.Entry) error
	GetLocations(ctx context.Context, hashes []ids.Hash) ([]contentindex.Entry, error)
	FetchSnapshot(ctx context.Context) (clusterstate.Snapshot, error)
	Close() error
}

// Client dials a tracker endpoint and implements API over it.
type Client struct {
	conn    *grpc.ClientConn
	tracker *transport.Client
}

var _ API = (*Client)(nil)

// Dial connects to a tracker listening at endpoint.
func Dial(endpoint string) (*Client, error) {
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, telemetry.DialOptions()...)
	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial tracker at %s: %w", endpoint, err)
	}
	return &Client{conn: conn, tracker: transport.NewClient(conn)}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) UpdateLocations(ctx context.Context, entries []contentindex.Entry) error {
	_, err := c.tracker.UpdateLocations(ctx, &transport.UpdateLocationsRequest{Entries: entries})
	return wrapErr(err)
}

func (c *Client) GetLocations(ctx context.Context, hashes []ids.Hash) ([]contentindex.Entry, error) {
	resp, err := c.tracker.GetLocations(ctx, &transport.GetLocationsRequest{Hashes: hashes})
	if err != nil {
		return nil, wrapErr(err)
	}
	return resp.Entries, nil
}

func (c *Client) FetchSnapshot(ctx context.Context) (clusterstate.Snapshot, error) {
	resp, err := c.tracker.FetchSnapshot(ctx, &transport.FetchSnapshotRequest{})
	if err != nil {
		return clusterstate.Snapshot{}, wrapErr(err)
	}
	return resp.Snapshot, nil
}

// wrapErr maps the gRPC status code a server's toGRPCError produced back
// onto this package's sentinel errors, mirroring the daemon SDK's
// grpcErr boundary.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, st.Message())
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", ErrConflict, st.Message())
	default:
		return errors.New(st.Message())
	}
}
