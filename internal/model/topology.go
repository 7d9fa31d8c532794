package model

import (
	"fmt"
	"sort"
	"strings"
)

// Token is a position on the hash ring
type Token uint64

// TokenRange represents a hash range [Start, End).
// A range with Start >= End wraps past the end of the ring; Start == End covers the whole ring.
type TokenRange struct {
	Start Token `json:"start"`
	End   Token `json:"end"`
}

// Contains checks whether a token falls inside the range
func (r TokenRange) Contains(t Token) bool {
	if r.Start < r.End {
		return t >= r.Start && t < r.End
	}
	// Wrap-around (or full ring when Start == End)
	return t >= r.Start || t < r.End
}

// String renders the range in interval notation
func (r TokenRange) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// Replication strategies
const (
	StrategySimple  = "simple"
	StrategyNetwork = "network"
)

// ReplicationConfig describes how a keyspace (or a single table) is replicated
type ReplicationConfig struct {
	Strategy          string         `json:"strategy" yaml:"strategy"`
	ReplicationFactor int            `json:"replication_factor,omitempty" yaml:"replication_factor"`
	Datacenters       map[string]int `json:"datacenters,omitempty" yaml:"datacenters"`
}

// TotalReplicas returns the number of replicas the strategy asks for
func (rc ReplicationConfig) TotalReplicas() int {
	if rc.Strategy == StrategyNetwork {
		total := 0
		for _, n := range rc.Datacenters {
			if n > 0 {
				total += n
			}
		}
		return total
	}
	return rc.ReplicationFactor
}

// RingEntry represents one token owned by an endpoint
type RingEntry struct {
	Token      Token       `json:"token"`
	Endpoint   HostAddress `json:"endpoint"`
	Datacenter string      `json:"datacenter"`
	Rack       string      `json:"rack"`
}

// TopologySnapshot is a consistent view of ring ownership fetched once per run.
// It is never mutated after NewTopologySnapshot returns.
type TopologySnapshot struct {
	clusterName string
	partitioner string
	entries     []RingEntry
	replication map[string]ReplicationConfig
	fetchedFrom HostAddress
}

// NewTopologySnapshot builds a snapshot, copying its inputs and sorting entries by token
func NewTopologySnapshot(
	clusterName, partitioner string,
	entries []RingEntry,
	replication map[string]ReplicationConfig,
	fetchedFrom HostAddress,
) *TopologySnapshot {
	sorted := make([]RingEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Token < sorted[j].Token })

	repl := make(map[string]ReplicationConfig, len(replication))
	for name, rc := range replication {
		dcs := make(map[string]int, len(rc.Datacenters))
		for dc, n := range rc.Datacenters {
			dcs[dc] = n
		}
		rc.Datacenters = dcs
		repl[name] = rc
	}

	return &TopologySnapshot{
		clusterName: clusterName,
		partitioner: partitioner,
		entries:     sorted,
		replication: repl,
		fetchedFrom: fetchedFrom,
	}
}

// ClusterName returns the name reported by the cluster
func (s *TopologySnapshot) ClusterName() string { return s.clusterName }

// Partitioner returns the name of the token function used by the cluster
func (s *TopologySnapshot) Partitioner() string { return s.partitioner }

// FetchedFrom returns the seed that supplied the snapshot
func (s *TopologySnapshot) FetchedFrom() HostAddress { return s.fetchedFrom }

// Len returns the number of ring entries
func (s *TopologySnapshot) Len() int { return len(s.entries) }

// Entry returns the ring entry at index i
func (s *TopologySnapshot) Entry(i int) RingEntry { return s.entries[i] }

// Entries returns a copy of the ring entries in token order
func (s *TopologySnapshot) Entries() []RingEntry {
	out := make([]RingEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Endpoints returns the distinct endpoints on the ring, sorted by address
func (s *TopologySnapshot) Endpoints() []HostAddress {
	seen := make(map[HostAddress]bool)
	out := make([]HostAddress, 0)
	for _, e := range s.entries {
		if !seen[e.Endpoint] {
			seen[e.Endpoint] = true
			out = append(out, e.Endpoint)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// HasEndpoint checks whether an endpoint is part of the snapshot
func (s *TopologySnapshot) HasEndpoint(addr HostAddress) bool {
	for _, e := range s.entries {
		if e.Endpoint == addr {
			return true
		}
	}
	return false
}

// ReplicationFor returns the replication config for a table, preferring a
// table-level entry ("keyspace.table") over the keyspace entry.
func (s *TopologySnapshot) ReplicationFor(table TableID) (ReplicationConfig, bool) {
	if rc, ok := s.replication[table.String()]; ok {
		return rc, true
	}
	rc, ok := s.replication[table.Keyspace]
	return rc, ok
}

// TableID identifies a table as keyspace.table
type TableID struct {
	Keyspace string `json:"keyspace"`
	Table    string `json:"table"`
}

// String renders keyspace.table
func (t TableID) String() string {
	return t.Keyspace + "." + t.Table
}

// ParseTableID parses "keyspace.table"
func ParseTableID(s string) (TableID, error) {
	ks, tbl, ok := strings.Cut(s, ".")
	if !ok || ks == "" || tbl == "" {
		return TableID{}, fmt.Errorf("invalid table id %q: expected keyspace.table", s)
	}
	return TableID{Keyspace: ks, Table: tbl}, nil
}
