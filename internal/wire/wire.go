// Package wire hand-encodes the tracker's RPC payloads as tag-delimited
// protobuf wire format using protowire directly, rather than generated
// proto.Message code: every message is forward-compatible (unknown
// fields are skipped, not rejected) without needing a .proto build step.
package wire

import (
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/buildcache/contenttracker/internal/clusterstate"
	"github.com/buildcache/contenttracker/internal/contentindex"
	"github.com/buildcache/contenttracker/internal/ids"
	"github.com/buildcache/contenttracker/internal/stamp"
)

// Field numbers for Stamp.
const (
	stampFieldSequence  protowire.Number = 1
	stampFieldTimestamp protowire.Number = 2
	stampFieldOp        protowire.Number = 3
)

// MarshalStamp encodes a stamp.Stamp.
func MarshalStamp(s stamp.Stamp) []byte {
	var b []byte
	b = protowire.AppendTag(b, stampFieldSequence, protowire.VarintType)
	b = protowire.AppendVarint(b, s.Sequence)
	b = protowire.AppendTag(b, stampFieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(s.Timestamp.UnixNano()))
	b = protowire.AppendTag(b, stampFieldOp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Op))
	return b
}

// UnmarshalStamp decodes a stamp.Stamp previously produced by MarshalStamp.
func UnmarshalStamp(b []byte) (stamp.Stamp, error) {
	var s stamp.Stamp
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return s, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case stampFieldSequence:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, protowire.ParseError(n)
			}
			s.Sequence = v
			b = b[n:]
		case stampFieldTimestamp:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, protowire.ParseError(n)
			}
			s.Timestamp = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
			b = b[n:]
		case stampFieldOp:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, protowire.ParseError(n)
			}
			s.Op = stamp.Operation(v)
			b = b[n:]
		default:
			n, err := skipField(b, typ)
			if err != nil {
				return s, err
			}
			b = b[n:]
		}
	}
	return s, nil
}

// Field numbers for an Entry's per-machine operation.
const (
	opFieldMachine protowire.Number = 1
	opFieldStamp   protowire.Number = 2
)

// Field numbers for Entry.
const (
	entryFieldHash protowire.Number = 1
	entryFieldSize protowire.Number = 2
	entryFieldOps  protowire.Number = 3
)

// MarshalEntry encodes a contentindex.Entry.
func MarshalEntry(e contentindex.Entry) []byte {
	var b []byte
	b = protowire.AppendTag(b, entryFieldHash, protowire.BytesType)
	b = protowire.AppendString(b, string(e.Hash))
	b = protowire.AppendTag(b, entryFieldSize, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(e.Size))

	for machine, st := range e.Ops {
		var op []byte
		op = protowire.AppendTag(op, opFieldMachine, protowire.VarintType)
		op = protowire.AppendVarint(op, uint64(machine))
		op = protowire.AppendTag(op, opFieldStamp, protowire.BytesType)
		op = protowire.AppendBytes(op, MarshalStamp(st))

		b = protowire.AppendTag(b, entryFieldOps, protowire.BytesType)
		b = protowire.AppendBytes(b, op)
	}
	return b
}

// UnmarshalEntry decodes a contentindex.Entry previously produced by
// MarshalEntry.
func UnmarshalEntry(b []byte) (contentindex.Entry, error) {
	e := contentindex.Entry{Size: contentindex.UnknownSize, Ops: make(map[ids.MachineID]stamp.Stamp)}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case entryFieldHash:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			e.Hash = ids.Hash(v)
			b = b[n:]
		case entryFieldSize:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			e.Size = protowire.DecodeZigZag(v)
			b = b[n:]
		case entryFieldOps:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			machine, st, err := unmarshalOp(v)
			if err != nil {
				return e, err
			}
			e.Ops[machine] = st
			b = b[n:]
		default:
			n, err := skipField(b, typ)
			if err != nil {
				return e, err
			}
			b = b[n:]
		}
	}
	return e, nil
}

func unmarshalOp(b []byte) (ids.MachineID, stamp.Stamp, error) {
	var machine ids.MachineID
	var st stamp.Stamp
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, st, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case opFieldMachine:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, st, protowire.ParseError(n)
			}
			machine = ids.MachineID(v)
			b = b[n:]
		case opFieldStamp:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, st, protowire.ParseError(n)
			}
			var err error
			st, err = UnmarshalStamp(v)
			if err != nil {
				return 0, st, err
			}
			b = b[n:]
		default:
			n, err := skipField(b, typ)
			if err != nil {
				return 0, st, err
			}
			b = b[n:]
		}
	}
	return machine, st, nil
}

// Field numbers for a cluster-state Record.
const (
	recordFieldID         protowire.Number = 1
	recordFieldLocation   protowire.Number = 2
	recordFieldPhase      protowire.Number = 3
	recordFieldLastBeat   protowire.Number = 4
	recordFieldGeneration protowire.Number = 5
)

// MarshalRecord encodes a clusterstate.Record.
func MarshalRecord(r clusterstate.Record) []byte {
	var b []byte
	b = protowire.AppendTag(b, recordFieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.ID))
	b = protowire.AppendTag(b, recordFieldLocation, protowire.BytesType)
	b = protowire.AppendString(b, string(r.Location))
	b = protowire.AppendTag(b, recordFieldPhase, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Phase))
	b = protowire.AppendTag(b, recordFieldLastBeat, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(r.LastBeat.UnixNano()))
	b = protowire.AppendTag(b, recordFieldGeneration, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Generation())
	return b
}

// UnmarshalRecord decodes a clusterstate.Record previously produced by
// MarshalRecord.
func UnmarshalRecord(b []byte) (clusterstate.Record, error) {
	var r clusterstate.Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case recordFieldID:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r.ID = ids.MachineID(v)
			b = b[n:]
		case recordFieldLocation:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r.Location = ids.Location(v)
			b = b[n:]
		case recordFieldPhase:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r.Phase = clusterstate.Phase(v)
			b = b[n:]
		case recordFieldLastBeat:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r.LastBeat = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
			b = b[n:]
		case recordFieldGeneration:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r = r.WithGeneration(v)
			b = b[n:]
		default:
			n, err := skipField(b, typ)
			if err != nil {
				return r, err
			}
			b = b[n:]
		}
	}
	return r, nil
}

// Field numbers for a Snapshot.
const (
	snapshotFieldNextID protowire.Number = 1
	snapshotFieldRecord protowire.Number = 2
)

// MarshalSnapshot encodes an entire clusterstate.Snapshot, used to
// bootstrap a late-joining machine (spec.md §8 S5) without replaying the
// whole mutation history.
func MarshalSnapshot(s clusterstate.Snapshot) []byte {
	var b []byte
	b = protowire.AppendTag(b, snapshotFieldNextID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.NextMachineID))
	for _, r := range s.Records() {
		b = protowire.AppendTag(b, snapshotFieldRecord, protowire.BytesType)
		b = protowire.AppendBytes(b, MarshalRecord(r))
	}
	return b
}

// UnmarshalSnapshot decodes a clusterstate.Snapshot previously produced by
// MarshalSnapshot.
func UnmarshalSnapshot(b []byte) (clusterstate.Snapshot, error) {
	var nextID ids.MachineID
	var records []clusterstate.Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return clusterstate.Snapshot{}, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case snapshotFieldNextID:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return clusterstate.Snapshot{}, protowire.ParseError(n)
			}
			nextID = ids.MachineID(v)
			b = b[n:]
		case snapshotFieldRecord:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return clusterstate.Snapshot{}, protowire.ParseError(n)
			}
			r, err := UnmarshalRecord(v)
			if err != nil {
				return clusterstate.Snapshot{}, err
			}
			records = append(records, r)
			b = b[n:]
		default:
			n, err := skipField(b, typ)
			if err != nil {
				return clusterstate.Snapshot{}, err
			}
			b = b[n:]
		}
	}
	return clusterstate.FromRecords(nextID, records), nil
}

func skipField(b []byte, typ protowire.Type) (int, error) {
	n := protowire.ConsumeFieldValue(0, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}

