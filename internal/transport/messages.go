package transport

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/buildcache/contenttracker/internal/clusterstate"
	"github.com/buildcache/contenttracker/internal/contentindex"
	"github.com/buildcache/contenttracker/internal/ids"
	"github.com/buildcache/contenttracker/internal/wire"
)

// wireMessage is satisfied by every request/response type the tracker
// service exchanges; Codec dispatches on it instead of proto.Message
// since these aren't protoc-generated.
type wireMessage interface {
	MarshalBinary() ([]byte, error)
	UnmarshalBinary([]byte) error
}

const (
	fieldRepeatedEntry protowire.Number = 1
	fieldRepeatedHash  protowire.Number = 1
	fieldLocation      protowire.Number = 1
	fieldMachineID     protowire.Number = 1
	fieldSnapshot      protowire.Number = 2
)

// UpdateLocationsRequest carries one or more locally merged entries to a
// ring leader or DHT shard owner.
type UpdateLocationsRequest struct {
	Entries []contentindex.Entry
}

func (r *UpdateLocationsRequest) MarshalBinary() ([]byte, error) {
	var b []byte
	for _, e := range r.Entries {
		b = protowire.AppendTag(b, fieldRepeatedEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, wire.MarshalEntry(e))
	}
	return b, nil
}

func (r *UpdateLocationsRequest) UnmarshalBinary(b []byte) error {
	for len(b) > 0 {
		_, _, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		e, err := wire.UnmarshalEntry(v)
		if err != nil {
			return err
		}
		r.Entries = append(r.Entries, e)
		b = b[n:]
	}
	return nil
}

// UpdateLocationsResponse is empty: success is the absence of an error.
type UpdateLocationsResponse struct{}

func (r *UpdateLocationsResponse) MarshalBinary() ([]byte, error)  { return nil, nil }
func (r *UpdateLocationsResponse) UnmarshalBinary(b []byte) error  { return nil }

// GetLocationsRequest asks for the merged entries of a set of hashes.
type GetLocationsRequest struct {
	Hashes []ids.Hash
}

func (r *GetLocationsRequest) MarshalBinary() ([]byte, error) {
	var b []byte
	for _, h := range r.Hashes {
		b = protowire.AppendTag(b, fieldRepeatedHash, protowire.BytesType)
		b = protowire.AppendString(b, string(h))
	}
	return b, nil
}

func (r *GetLocationsRequest) UnmarshalBinary(b []byte) error {
	for len(b) > 0 {
		_, _, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		r.Hashes = append(r.Hashes, ids.Hash(v))
		b = b[n:]
	}
	return nil
}

// GetLocationsResponse carries one merged entry per requested hash.
type GetLocationsResponse struct {
	Entries []contentindex.Entry
}

func (r *GetLocationsResponse) MarshalBinary() ([]byte, error) {
	var b []byte
	for _, e := range r.Entries {
		b = protowire.AppendTag(b, fieldRepeatedEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, wire.MarshalEntry(e))
	}
	return b, nil
}

func (r *GetLocationsResponse) UnmarshalBinary(b []byte) error {
	for len(b) > 0 {
		_, _, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		e, err := wire.UnmarshalEntry(v)
		if err != nil {
			return err
		}
		r.Entries = append(r.Entries, e)
		b = b[n:]
	}
	return nil
}

// RegisterMachineRequest asks the server to admit the caller's location
// into cluster state, the single-process-boundary-crossing wire
// equivalent of clusterstate.RegisterMachine (spec.md §4.3), used by a
// joining daemon talking to a seed peer.
type RegisterMachineRequest struct {
	Location ids.Location
}

func (r *RegisterMachineRequest) MarshalBinary() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldLocation, protowire.BytesType)
	b = protowire.AppendString(b, string(r.Location))
	return b, nil
}

func (r *RegisterMachineRequest) UnmarshalBinary(b []byte) error {
	for len(b) > 0 {
		_, _, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		r.Location = ids.Location(v)
		b = b[n:]
	}
	return nil
}

// RegisterMachineResponse carries the id the joining machine was assigned
// plus a full snapshot of cluster state as of registration, so the
// joiner can bootstrap its local broker without a separate FetchSnapshot
// round trip.
type RegisterMachineResponse struct {
	ID       ids.MachineID
	Snapshot clusterstate.Snapshot
}

func (r *RegisterMachineResponse) MarshalBinary() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldMachineID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.ID))
	b = protowire.AppendTag(b, fieldSnapshot, protowire.BytesType)
	b = protowire.AppendBytes(b, wire.MarshalSnapshot(r.Snapshot))
	return b, nil
}

func (r *RegisterMachineResponse) UnmarshalBinary(b []byte) error {
	for len(b) > 0 {
		num, _, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldMachineID:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.ID = ids.MachineID(v)
			b = b[n:]
		case fieldSnapshot:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			snap, err := wire.UnmarshalSnapshot(v)
			if err != nil {
				return err
			}
			r.Snapshot = snap
			b = b[n:]
		}
	}
	return nil
}

// FetchSnapshotRequest has no fields: it simply asks for the current
// cluster-state snapshot, used by a late-joining machine (spec.md §8 S5).
type FetchSnapshotRequest struct{}

func (r *FetchSnapshotRequest) MarshalBinary() ([]byte, error) { return nil, nil }
func (r *FetchSnapshotRequest) UnmarshalBinary(b []byte) error { return nil }

// FetchSnapshotResponse carries a whole cluster-state snapshot.
type FetchSnapshotResponse struct {
	Snapshot clusterstate.Snapshot
}

func (r *FetchSnapshotResponse) MarshalBinary() ([]byte, error) {
	return wire.MarshalSnapshot(r.Snapshot), nil
}

func (r *FetchSnapshotResponse) UnmarshalBinary(b []byte) error {
	s, err := wire.UnmarshalSnapshot(b)
	if err != nil {
		return err
	}
	r.Snapshot = s
	return nil
}
