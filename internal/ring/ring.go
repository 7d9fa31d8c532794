package ring

import (
	"fmt"
	"sort"

	"github.com/devrev/pairdb/bulkloader/internal/model"
)

// Ring is a read-only token ring built from a topology snapshot.
// Entry i owns the half-open range [token(i-1), token(i)); entry 0 owns the wrap-around range.
type Ring struct {
	tokens  []model.Token
	entries []model.RingEntry
	ignored map[model.HostAddress]bool

	// Per-datacenter membership, used by the network strategy
	dcEndpoints map[string]map[model.HostAddress]bool
	dcRacks     map[string]map[string]bool
}

// New builds a ring from a snapshot. Ignored endpoints stay on the ring (they still
// delimit ranges) but are never selected as replicas.
func New(snapshot *model.TopologySnapshot, ignored []model.HostAddress) *Ring {
	r := &Ring{
		tokens:      make([]model.Token, 0, snapshot.Len()),
		entries:     snapshot.Entries(),
		ignored:     make(map[model.HostAddress]bool, len(ignored)),
		dcEndpoints: make(map[string]map[model.HostAddress]bool),
		dcRacks:     make(map[string]map[string]bool),
	}
	for _, ep := range ignored {
		r.ignored[ep] = true
	}

	for _, e := range r.entries {
		r.tokens = append(r.tokens, e.Token)
		if r.ignored[e.Endpoint] {
			continue
		}
		if r.dcEndpoints[e.Datacenter] == nil {
			r.dcEndpoints[e.Datacenter] = make(map[model.HostAddress]bool)
			r.dcRacks[e.Datacenter] = make(map[string]bool)
		}
		r.dcEndpoints[e.Datacenter][e.Endpoint] = true
		r.dcRacks[e.Datacenter][e.Rack] = true
	}

	return r
}

// Len returns the number of ring entries
func (r *Ring) Len() int {
	return len(r.tokens)
}

// EndpointCount returns the number of selectable endpoints
func (r *Ring) EndpointCount() int {
	n := 0
	for _, eps := range r.dcEndpoints {
		n += len(eps)
	}
	return n
}

// OwnerIndex returns the index of the entry owning a token: the first entry whose
// token is strictly greater, wrapping to 0. A token equal to a ring token therefore
// starts the following range.
func (r *Ring) OwnerIndex(t model.Token) int {
	if len(r.tokens) == 0 {
		return -1
	}

	idx := sort.Search(len(r.tokens), func(i int) bool {
		return r.tokens[i] > t
	})

	// Wrap around if necessary
	if idx >= len(r.tokens) {
		idx = 0
	}
	return idx
}

// RangeAt returns the token range owned by entry i
func (r *Ring) RangeAt(i int) model.TokenRange {
	prev := (i - 1 + len(r.tokens)) % len(r.tokens)
	return model.TokenRange{Start: r.tokens[prev], End: r.tokens[i]}
}

// Entry returns ring entry i
func (r *Ring) Entry(i int) model.RingEntry {
	return r.entries[i]
}

// Replicas returns the replica set for the range owned by entry i under a replication config
func (r *Ring) Replicas(i int, rc model.ReplicationConfig) (model.ReplicaSet, error) {
	if len(r.tokens) == 0 {
		return nil, fmt.Errorf("ring has no entries")
	}
	if i < 0 || i >= len(r.tokens) {
		return nil, fmt.Errorf("ring index %d out of range", i)
	}

	var replicas model.ReplicaSet
	switch rc.Strategy {
	case model.StrategySimple, "":
		if rc.ReplicationFactor <= 0 {
			return nil, fmt.Errorf("replication factor must be positive, got %d", rc.ReplicationFactor)
		}
		replicas = r.simpleReplicas(i, rc.ReplicationFactor)
	case model.StrategyNetwork:
		if rc.TotalReplicas() <= 0 {
			return nil, fmt.Errorf("network strategy has no datacenter replica targets")
		}
		replicas = r.networkReplicas(i, rc.Datacenters)
	default:
		return nil, fmt.Errorf("unknown replication strategy %q", rc.Strategy)
	}

	if len(replicas) == 0 {
		return nil, fmt.Errorf("no endpoints satisfy %s replication", strategyName(rc.Strategy))
	}
	return replicas, nil
}

// simpleReplicas collects the next count distinct endpoints in ring order
func (r *Ring) simpleReplicas(start, count int) model.ReplicaSet {
	replicas := make(model.ReplicaSet, 0, count)
	seen := make(map[model.HostAddress]bool)

	for i := 0; i < len(r.entries) && len(replicas) < count; i++ {
		e := r.entries[(start+i)%len(r.entries)]
		if r.ignored[e.Endpoint] || seen[e.Endpoint] {
			continue
		}
		seen[e.Endpoint] = true
		replicas = append(replicas, e.Endpoint)
	}

	return replicas
}

// networkReplicas walks the ring satisfying per-datacenter targets. Within a
// datacenter distinct racks are preferred; endpoints on an already used rack are
// held back and only used once every rack of that datacenter has a replica.
func (r *Ring) networkReplicas(start int, targets map[string]int) model.ReplicaSet {
	want := make(map[string]int, len(targets))
	for dc, n := range targets {
		if avail := len(r.dcEndpoints[dc]); n > avail {
			n = avail
		}
		if n > 0 {
			want[dc] = n
		}
	}

	total := 0
	for _, n := range want {
		total += n
	}

	replicas := make(model.ReplicaSet, 0, total)
	seen := make(map[model.HostAddress]bool)
	got := make(map[string]int)
	seenRacks := make(map[string]map[string]bool)
	skipped := make(map[string][]model.HostAddress)

	add := func(dc string, ep model.HostAddress) {
		seen[ep] = true
		replicas = append(replicas, ep)
		got[dc]++
	}

	for i := 0; i < len(r.entries) && len(replicas) < total; i++ {
		e := r.entries[(start+i)%len(r.entries)]
		dc := e.Datacenter
		if r.ignored[e.Endpoint] || seen[e.Endpoint] {
			continue
		}
		if want[dc] == 0 || got[dc] >= want[dc] {
			continue
		}

		if seenRacks[dc] == nil {
			seenRacks[dc] = make(map[string]bool)
		}
		allRacksUsed := len(seenRacks[dc]) == len(r.dcRacks[dc])
		if seenRacks[dc][e.Rack] && !allRacksUsed {
			if !contains(skipped[dc], e.Endpoint) {
				skipped[dc] = append(skipped[dc], e.Endpoint)
			}
			continue
		}

		add(dc, e.Endpoint)
		if allRacksUsed {
			continue
		}
		seenRacks[dc][e.Rack] = true

		// Every rack used: fall back to held-back endpoints in ring order
		if len(seenRacks[dc]) == len(r.dcRacks[dc]) {
			for _, ep := range skipped[dc] {
				if got[dc] >= want[dc] {
					break
				}
				if !seen[ep] {
					add(dc, ep)
				}
			}
			skipped[dc] = nil
		}
	}

	return replicas
}

func contains(eps []model.HostAddress, ep model.HostAddress) bool {
	for _, e := range eps {
		if e == ep {
			return true
		}
	}
	return false
}

func strategyName(s string) string {
	if s == "" {
		return model.StrategySimple
	}
	return s
}
