// Package localtracker implements the in-memory per-hash content tracker
// (spec.md §4.2): idempotent merge of incoming entries, sequence-number
// minting for locally originated changes, and snapshot reads that never
// observe a torn entry.
package localtracker

import (
	"sync"

	"github.com/buildcache/contenttracker/internal/clusterclock"
	"github.com/buildcache/contenttracker/internal/contentindex"
	"github.com/buildcache/contenttracker/internal/ids"
	"github.com/buildcache/contenttracker/internal/stamp"
)

// defaultStripes is the default hash-striping factor: contention is
// proportional to hot-hash overlap rather than total hash count
// (spec.md §5's shared-resource policy).
const defaultStripes = 64

type stripe struct {
	mu      sync.Mutex
	entries map[ids.Hash]contentindex.Entry
	// seqLocks serializes stamp minting per hash within this stripe so two
	// concurrent ProcessLocalChange calls for the same hash never race on
	// get_sequence_number + merge.
	seqLocks map[ids.Hash]*sync.Mutex
}

// Tracker is the local content tracker for one machine.
type Tracker struct {
	self    ids.MachineID
	clock   clusterclock.Clock
	stripes []*stripe
}

// New creates a Tracker for self, using clock to stamp locally originated
// changes. numStripes <= 0 uses defaultStripes.
func New(self ids.MachineID, clock clusterclock.Clock, numStripes int) *Tracker {
	if numStripes <= 0 {
		numStripes = defaultStripes
	}
	stripes := make([]*stripe, numStripes)
	for i := range stripes {
		stripes[i] = &stripe{entries: make(map[ids.Hash]contentindex.Entry), seqLocks: make(map[ids.Hash]*sync.Mutex)}
	}
	return &Tracker{self: self, clock: clock, stripes: stripes}
}

func (t *Tracker) stripeFor(hash ids.Hash) *stripe {
	return t.stripes[fnv32(string(hash))%uint32(len(t.stripes))]
}

func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

// UpdateLocations merges each incoming entry into local state. Merging is
// idempotent and commutative, so replayed or out-of-order entries are
// always safe to apply.
func (t *Tracker) UpdateLocations(entries []contentindex.Entry) error {
	for _, e := range entries {
		s := t.stripeFor(e.Hash)
		s.mu.Lock()
		cur, ok := s.entries[e.Hash]
		if !ok {
			cur = contentindex.New(e.Hash)
		}
		s.entries[e.Hash] = contentindex.Merge(cur, e)
		s.mu.Unlock()
	}
	return nil
}

// GetLocations returns one Entry per requested hash, empty if unknown.
// Each returned entry is a merged snapshot that never straddles two
// concurrent writers.
func (t *Tracker) GetLocations(hashes []ids.Hash) []contentindex.Entry {
	out := make([]contentindex.Entry, len(hashes))
	for i, h := range hashes {
		s := t.stripeFor(h)
		s.mu.Lock()
		e, ok := s.entries[h]
		s.mu.Unlock()
		if !ok {
			out[i] = contentindex.New(h)
		} else {
			out[i] = e.Clone()
		}
	}
	return out
}

// GetSequenceNumber returns the highest sequence observed for (hash,
// machine), or 0 if none.
func (t *Tracker) GetSequenceNumber(hash ids.Hash, machine ids.MachineID) uint64 {
	s := t.stripeFor(hash)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[hash]
	if !ok {
		return 0
	}
	st, ok := e.Ops[machine]
	if !ok {
		return 0
	}
	return st.Sequence
}

// ProcessLocalChange mints a new stamp for (hash, self) — one greater than
// the last sequence number observed for this pair — and merges the
// resulting single-operation entry into local state. Minting is
// serialized per (hash, self) so two concurrent calls never produce
// colliding sequence numbers.
func (t *Tracker) ProcessLocalChange(op stamp.Operation, hash ids.Hash, size int64) contentindex.Entry {
	s := t.stripeFor(hash)

	s.mu.Lock()
	lock, ok := s.seqLocks[hash]
	if !ok {
		lock = &sync.Mutex{}
		s.seqLocks[hash] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	seq := t.GetSequenceNumber(hash, t.self) + 1
	st := stamp.New(seq, t.clock.Now(), op)
	entry := contentindex.Single(hash, t.self, st, size)

	s.mu.Lock()
	cur, ok := s.entries[hash]
	if !ok {
		cur = contentindex.New(hash)
	}
	s.entries[hash] = contentindex.Merge(cur, entry)
	s.mu.Unlock()

	return entry
}
