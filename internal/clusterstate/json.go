package clusterstate

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/buildcache/contenttracker/internal/ids"
)

// wireSnapshot is the exact external shape spec.md §6 pins down:
//
//	{"NextMachineId":2,"Records":[{"Id":1,"Location":"grpc://node:1234/","State":"Open","LastHeartbeatTimeUtc":"0001-01-01T00:00:00"}]}
//
// Unknown fields on read are ignored — the default behavior of
// encoding/json already satisfies that half of the contract.
type wireSnapshot struct {
	NextMachineID uint32       `json:"NextMachineId"`
	Records       []wireRecord `json:"Records"`
}

type wireRecord struct {
	ID                   uint32 `json:"Id"`
	Location             string `json:"Location"`
	State                string `json:"State"`
	LastHeartbeatTimeUtc string `json:"LastHeartbeatTimeUtc"`
}

const wireTimeLayout = "2006-01-02T15:04:05"

// MarshalJSON renders the exact field names and ordering the external
// contract requires. Records are sorted by id for a deterministic byte
// output, which the round-trip fixture in spec.md §8 depends on.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	recs := s.Records()
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })

	out := wireSnapshot{NextMachineID: uint32(s.NextMachineID), Records: make([]wireRecord, len(recs))}
	for i, r := range recs {
		out.Records[i] = wireRecord{
			ID:                   uint32(r.ID),
			Location:             string(r.Location),
			State:                r.Phase.String(),
			LastHeartbeatTimeUtc: r.LastBeat.UTC().Format(wireTimeLayout),
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the external contract shape into a Snapshot.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var in wireSnapshot
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	out := Snapshot{NextMachineID: ids.MachineID(in.NextMachineID), records: make(map[ids.MachineID]Record, len(in.Records))}
	for _, r := range in.Records {
		t, err := time.Parse(wireTimeLayout, r.LastHeartbeatTimeUtc)
		if err != nil {
			return err
		}
		out.records[ids.MachineID(r.ID)] = Record{
			ID:       ids.MachineID(r.ID),
			Location: ids.Location(r.Location),
			Phase:    parsePhase(r.State),
			LastBeat: t,
		}
	}
	*s = out
	return nil
}

func parsePhase(s string) Phase {
	switch s {
	case "Open":
		return Open
	case "Closed":
		return Closed
	case "DeadUnavailable":
		return DeadUnavailable
	case "DeadExpired":
		return DeadExpired
	default:
		return Open
	}
}
