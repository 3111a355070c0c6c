// Package shardmgr implements the DHT shard-ownership scheme (spec.md
// §4.4): a consistent-hash ring over available machines, so that adding
// or removing one machine reshards only the keys adjacent to it.
package shardmgr

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/buildcache/contenttracker/internal/errkind"
	"github.com/buildcache/contenttracker/internal/ids"
)

// vnodesPerMachine is the number of points each machine occupies on the
// ring. More points smooth the load distribution at the cost of a larger
// ring to search; 128 matches the density torua documents as reasonable
// for clusters in the tens-to-low-hundreds of nodes.
const vnodesPerMachine = 128

type ringPoint struct {
	hash    uint64
	machine ids.MachineID
}

// ring is an immutable, sorted set of virtual-node points. Rebuilt
// wholesale on every membership change; lookups are a binary search.
type ring struct {
	points []ringPoint
}

func buildRing(machines []ids.MachineID) ring {
	points := make([]ringPoint, 0, len(machines)*vnodesPerMachine)
	for _, m := range machines {
		for v := 0; v < vnodesPerMachine; v++ {
			points = append(points, ringPoint{hash: vnodeHash(m, v), machine: m})
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].hash < points[j].hash })
	return ring{points: points}
}

func vnodeHash(m ids.MachineID, vnode int) uint64 {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%d", m, vnode)))
	return binary.BigEndian.Uint64(sum[:8])
}

func keyHash(key string) uint64 {
	sum := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint64(sum[:8])
}

// owner returns the machine owning key: the first ring point at or after
// key's hash, wrapping to the first point if key's hash is past the end.
func (r ring) owner(key string) (ids.MachineID, bool) {
	if len(r.points) == 0 {
		return 0, false
	}
	h := keyHash(key)
	idx := sort.Search(len(r.points), func(i int) bool { return r.points[i].hash >= h })
	if idx == len(r.points) {
		idx = 0
	}
	return r.points[idx].machine, true
}

// Manager tracks the set of available machines and exposes consistent-hash
// shard ownership over it. Callers subscribe to be notified of membership
// changes so they can invalidate cached routing decisions.
type Manager struct {
	mu        sync.Mutex
	available map[ids.MachineID]bool
	current   ring
	subs      map[uint64]chan struct{}
	nextSubID uint64
}

// NewManager creates an empty Manager; machines are added via SetAvailable.
func NewManager() *Manager {
	return &Manager{
		available: make(map[ids.MachineID]bool),
		subs:      make(map[uint64]chan struct{}),
	}
}

// SetAvailable marks machine as available or unavailable for shard
// ownership and rebuilds the ring if membership actually changed.
func (m *Manager) SetAvailable(machine ids.MachineID, available bool) {
	m.mu.Lock()
	_, had := m.available[machine]
	changed := had != available
	if available {
		m.available[machine] = true
	} else {
		delete(m.available, machine)
	}
	if changed {
		m.rebuildLocked()
	}
	m.mu.Unlock()

	if changed {
		m.notify()
	}
}

func (m *Manager) rebuildLocked() {
	machines := make([]ids.MachineID, 0, len(m.available))
	for mid := range m.available {
		machines = append(machines, mid)
	}
	sort.Slice(machines, func(i, j int) bool { return machines[i] < machines[j] })
	m.current = buildRing(machines)
}

// OwnerOf returns the machine that owns key under the current ring, or
// ok=false if no machine is available (the NoShards condition).
func (m *Manager) OwnerOf(key string) (ids.MachineID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.owner(key)
}

// Owner is like OwnerOf but returns a NoShards error instead of ok=false,
// for callers that want to propagate the condition as an error.
func (m *Manager) Owner(key string) (ids.MachineID, error) {
	mid, ok := m.OwnerOf(key)
	if !ok {
		return 0, errkind.New(errkind.NoShards, "Owner", "no machines available to own key "+key)
	}
	return mid, nil
}

// Available returns the set of currently available machines, sorted.
func (m *Manager) Available() []ids.MachineID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ids.MachineID, 0, len(m.available))
	for mid := range m.available {
		out = append(out, mid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Subscribe returns a channel that receives a (coalesced) signal whenever
// ring membership changes, and an unsubscribe function.
func (m *Manager) Subscribe() (<-chan struct{}, func()) {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	ch := make(chan struct{}, 1)
	m.subs[id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Manager) notify() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
