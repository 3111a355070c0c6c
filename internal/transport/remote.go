package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/buildcache/contenttracker/internal/clusterstate"
	"github.com/buildcache/contenttracker/internal/contentindex"
	"github.com/buildcache/contenttracker/internal/disttracker"
	"github.com/buildcache/contenttracker/internal/errkind"
	"github.com/buildcache/contenttracker/internal/ids"
	"github.com/buildcache/contenttracker/internal/telemetry"
)

// defaultRemoteConstructionTimeout and defaultMaxRemoteWait mirror
// config.Default()'s values; NewRemoteDialer callers normally override
// both via WithTimeouts once the daemon's loaded config is available.
const (
	defaultRemoteConstructionTimeout = 10 * time.Second
	defaultMaxRemoteWait             = 30 * time.Second
)

// fromGRPCError is the reverse of Server's toGRPCError: it classifies a
// status returned by a remote peer back into this tracker's own error-kind
// sum type (spec.md §7), so a calling hop can decide whether to retry
// (Transient), surface immediately (PermanentRejected, Cancelled), or
// treat the peer as simply unreachable.
func fromGRPCError(err error) errkind.Kind {
	st, ok := status.FromError(err)
	if !ok {
		return errkind.Transient
	}
	switch st.Code() {
	case codes.NotFound:
		return errkind.UnknownMachine
	case codes.FailedPrecondition:
		return errkind.PermanentRejected
	case codes.Canceled:
		return errkind.Cancelled
	case codes.DataLoss:
		return errkind.Corrupted
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return errkind.Transient
	default:
		return errkind.Transient
	}
}

var _ disttracker.RemoteCaller = (*RemoteDialer)(nil)

// Locator resolves a machine id to a dialable network location. Backed by
// a clusterstate.Broker in production.
type Locator interface {
	Lookup(id ids.MachineID) (ids.Location, bool)
}

// brokerLocator adapts a clusterstate.Broker's current snapshot to Locator.
type brokerLocator struct {
	broker *clusterstate.Broker
}

// NewBrokerLocator resolves machine ids against broker's current snapshot.
func NewBrokerLocator(broker *clusterstate.Broker) Locator {
	return brokerLocator{broker: broker}
}

func (b brokerLocator) Lookup(id ids.MachineID) (ids.Location, bool) {
	r, ok := b.broker.Current().Lookup(id)
	if !ok {
		return "", false
	}
	return r.Location, true
}

// RemoteDialer implements disttracker.RemoteCaller over real gRPC
// connections, caching one connection per distinct location the way the
// teacher's proxy Director caches one RemoteBackend per management IP.
//
// Every hop is bounded by perCallTimeout (spec.md §5's
// remote_construction_timeout_ms) and, on a Transient classification,
// retried with exponential backoff capped at maxRemoteWait — the same
// backoff.ExponentialBackOff the teacher's corrosion client uses against
// its own HTTP/2 transport.
type RemoteDialer struct {
	locate         Locator
	perCallTimeout time.Duration
	maxRemoteWait  time.Duration

	mu    sync.Mutex
	conns map[ids.Location]*grpc.ClientConn
}

// NewRemoteDialer creates a dialer that resolves machine ids via locate,
// using config.Default()'s timeout values until WithTimeouts overrides them.
func NewRemoteDialer(locate Locator) *RemoteDialer {
	return &RemoteDialer{
		locate:         locate,
		perCallTimeout: defaultRemoteConstructionTimeout,
		maxRemoteWait:  defaultMaxRemoteWait,
		conns:          make(map[ids.Location]*grpc.ClientConn),
	}
}

// WithTimeouts overrides the per-call deadline and the overall retry
// budget for Transient hops; returns d for chaining at construction time.
func (d *RemoteDialer) WithTimeouts(perCall, maxWait time.Duration) *RemoteDialer {
	d.perCallTimeout = perCall
	d.maxRemoteWait = maxWait
	return d
}

func (d *RemoteDialer) clientFor(machine ids.MachineID) (*Client, error) {
	loc, ok := d.locate.Lookup(machine)
	if !ok {
		return nil, fmt.Errorf("transport: no known location for machine %v", machine)
	}

	d.mu.Lock()
	conn, ok := d.conns[loc]
	d.mu.Unlock()
	if ok {
		return NewClient(conn), nil
	}

	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, telemetry.DialOptions()...)
	conn, err := grpc.NewClient(string(loc), opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", loc, err)
	}

	d.mu.Lock()
	existing, loaded := d.conns[loc]
	if loaded {
		d.mu.Unlock()
		_ = conn.Close()
		return NewClient(existing), nil
	}
	d.conns[loc] = conn
	d.mu.Unlock()
	return NewClient(conn), nil
}

func (d *RemoteDialer) ForwardUpdate(ctx context.Context, target ids.MachineID, entries []contentindex.Entry) error {
	c, err := d.clientFor(target)
	if err != nil {
		return errkind.Wrap(err, errkind.Transient, "ForwardUpdate", "no route to "+target.String())
	}
	return d.withRetry(ctx, "ForwardUpdate", func(attemptCtx context.Context) error {
		_, err := c.UpdateLocations(attemptCtx, &UpdateLocationsRequest{Entries: entries})
		return err
	})
}

func (d *RemoteDialer) ForwardGet(ctx context.Context, target ids.MachineID, hashes []ids.Hash) ([]contentindex.Entry, error) {
	c, err := d.clientFor(target)
	if err != nil {
		return nil, errkind.Wrap(err, errkind.Transient, "ForwardGet", "no route to "+target.String())
	}
	var resp *GetLocationsResponse
	err = d.withRetry(ctx, "ForwardGet", func(attemptCtx context.Context) error {
		r, err := c.GetLocations(attemptCtx, &GetLocationsRequest{Hashes: hashes})
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// withRetry runs fn once per attempt, deadlined at perCallTimeout. A
// Transient classification (spec.md §7) is retried with exponential
// backoff until maxRemoteWait elapses; any other classification surfaces
// immediately. A successful attempt returns nil; otherwise the last
// attempt's error is returned wrapped in errkind so disttracker can tell a Transient-exhausted hop (to be treated
// as an empty, non-fatal contribution) from a PermanentRejected one (to be
// surfaced).
func (d *RemoteDialer) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	b := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
		backoff.WithMaxInterval(2*time.Second),
		backoff.WithMaxElapsedTime(d.maxRemoteWait),
	), ctx)

	var lastErr error
	var lastKind errkind.Kind
	_ = backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, d.perCallTimeout)
		defer cancel()

		err := fn(attemptCtx)
		if err == nil {
			lastErr = nil
			return nil
		}
		lastErr = err
		lastKind = fromGRPCError(err)
		if lastKind == errkind.Transient {
			return err
		}
		return backoff.Permanent(err)
	}, b)

	if lastErr == nil {
		return nil
	}
	return errkind.Wrap(lastErr, lastKind, op, "target unreachable after retry")
}

// Close tears down every cached connection.
func (d *RemoteDialer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conns {
		_ = c.Close()
	}
	d.conns = make(map[ids.Location]*grpc.ClientConn)
}
