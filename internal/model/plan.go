package model

import "sort"

// PartitionRecord is one partition read from a source file. Records are never mutated
// once produced; the router fills in Token on a copy.
type PartitionRecord struct {
	Key        []byte
	Token      Token
	Table      TableID
	Payload    []byte
	SourceFile string
}

// Size returns the number of bytes the record contributes to a transfer
func (p *PartitionRecord) Size() int64 {
	return int64(len(p.Key) + len(p.Payload))
}

// ReplicaSet is the ordered list of endpoints owning a token, primary first
type ReplicaSet []HostAddress

// Primary returns the highest-priority endpoint
func (rs ReplicaSet) Primary() HostAddress {
	if len(rs) == 0 {
		return HostAddress{}
	}
	return rs[0]
}

// Equal checks two replica sets for identical order and membership
func (rs ReplicaSet) Equal(other ReplicaSet) bool {
	if len(rs) != len(other) {
		return false
	}
	for i := range rs {
		if rs[i] != other[i] {
			return false
		}
	}
	return true
}

// Fallbacks returns the replicas after the given endpoint, in priority order
func (rs ReplicaSet) Fallbacks(after HostAddress) []HostAddress {
	out := make([]HostAddress, 0, len(rs))
	for _, ep := range rs {
		if ep != after {
			out = append(out, ep)
		}
	}
	return out
}

// RangeUnit is a coalesced batch of contiguous-token partitions of one table
type RangeUnit struct {
	ID         string
	Table      TableID
	Range      TokenRange
	Replicas   ReplicaSet
	Partitions []PartitionRecord
	Bytes      int64
}

// StreamPlan maps each target endpoint to the range units it receives.
// It is immutable once built and shared read-only by all sessions.
type StreamPlan struct {
	assignments map[HostAddress][]*RangeUnit
	endpoints   []HostAddress
	replicas    []HostAddress
	totalUnits  int
	totalBytes  int64
}

// NewStreamPlan builds a plan from per-endpoint assignments. Unit order per endpoint is kept.
func NewStreamPlan(assignments map[HostAddress][]*RangeUnit) *StreamPlan {
	plan := &StreamPlan{
		assignments: make(map[HostAddress][]*RangeUnit, len(assignments)),
		endpoints:   make([]HostAddress, 0, len(assignments)),
	}
	seen := make(map[HostAddress]bool)
	for ep, units := range assignments {
		if len(units) == 0 {
			continue
		}
		cp := make([]*RangeUnit, len(units))
		copy(cp, units)
		plan.assignments[ep] = cp
		plan.endpoints = append(plan.endpoints, ep)
		plan.totalUnits += len(units)
		for _, u := range units {
			plan.totalBytes += u.Bytes
			for _, r := range u.Replicas {
				if !seen[r] {
					seen[r] = true
					plan.replicas = append(plan.replicas, r)
				}
			}
		}
	}
	sortAddresses(plan.endpoints)
	sortAddresses(plan.replicas)
	return plan
}

func sortAddresses(addrs []HostAddress) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].String() < addrs[j].String() })
}

// Endpoints returns the target endpoints in a stable order
func (p *StreamPlan) Endpoints() []HostAddress {
	out := make([]HostAddress, len(p.endpoints))
	copy(out, p.endpoints)
	return out
}

// ReplicaEndpoints returns every endpoint of every unit's replica set, sorted.
// It is a superset of Endpoints whenever units carry their primary.
func (p *StreamPlan) ReplicaEndpoints() []HostAddress {
	out := make([]HostAddress, len(p.replicas))
	copy(out, p.replicas)
	return out
}

// UnitsFor returns the units assigned to an endpoint, in send order
func (p *StreamPlan) UnitsFor(ep HostAddress) []*RangeUnit {
	return p.assignments[ep]
}

// TotalUnits returns the number of units across all endpoints
func (p *StreamPlan) TotalUnits() int { return p.totalUnits }

// TotalBytes returns the payload bytes across all units
func (p *StreamPlan) TotalBytes() int64 { return p.totalBytes }

// IsEmpty reports whether there is nothing to stream
func (p *StreamPlan) IsEmpty() bool { return p.totalUnits == 0 }
