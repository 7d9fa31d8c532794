package router

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	loaderrors "github.com/devrev/pairdb/bulkloader/internal/errors"
	"github.com/devrev/pairdb/bulkloader/internal/model"
	"github.com/devrev/pairdb/bulkloader/internal/ring"
)

// PartitionSource yields partitions until io.EOF
type PartitionSource interface {
	Next(ctx context.Context) (*model.PartitionRecord, error)
}

// Options controls routing and batching
type Options struct {
	// Ignored endpoints never receive data
	Ignored           []model.HostAddress
	MaxUnitBytes      int64
	MaxUnitPartitions int
	// MaxPlanBytes bounds the partition data held in memory while planning;
	// zero means no bound
	MaxPlanBytes int64
}

// Router assigns partitions to the endpoints that own them
type Router struct {
	opts   Options
	logger *zap.Logger
}

// NewRouter creates a new router
func NewRouter(opts Options, logger *zap.Logger) *Router {
	if opts.MaxUnitBytes <= 0 {
		opts.MaxUnitBytes = 64 * 1024 * 1024
	}
	if opts.MaxUnitPartitions <= 0 {
		opts.MaxUnitPartitions = 100000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{opts: opts, logger: logger}
}

// tableRange keys partitions by table and owning ring entry
type tableRange struct {
	table model.TableID
	index int
}

// routing holds the state of one Route call
type routing struct {
	snapshot    *model.TopologySnapshot
	ring        *ring.Ring
	replicas    map[tableRange]model.ReplicaSet
	replication map[model.TableID]model.ReplicationConfig
}

// Route builds the stream plan for every partition of src against one snapshot.
// All routing errors surface before anything is streamed.
func (r *Router) Route(ctx context.Context, snapshot *model.TopologySnapshot, src PartitionSource) (*model.StreamPlan, error) {
	if snapshot == nil || snapshot.Len() == 0 {
		return nil, loaderrors.Routing("ring has no token entries", nil)
	}

	partitioner, err := ring.NewPartitioner(snapshot.Partitioner())
	if err != nil {
		return nil, loaderrors.Routing("cannot compute tokens", err)
	}

	rt := &routing{
		snapshot:    snapshot,
		ring:        ring.New(snapshot, r.opts.Ignored),
		replicas:    make(map[tableRange]model.ReplicaSet),
		replication: make(map[model.TableID]model.ReplicationConfig),
	}
	if rt.ring.EndpointCount() == 0 {
		return nil, loaderrors.Routing("every ring endpoint is ignored", nil)
	}

	groups := make(map[tableRange][]model.PartitionRecord)
	total := 0
	var held int64
	for {
		rec, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		p := *rec
		p.Token = partitioner.Token(p.Key)
		key := tableRange{table: p.Table, index: rt.ring.OwnerIndex(p.Token)}

		// Resolve replicas eagerly so a misconfigured table fails the run early
		if _, err := rt.replicasFor(key); err != nil {
			return nil, err
		}
		held += p.Size()
		if r.opts.MaxPlanBytes > 0 && held > r.opts.MaxPlanBytes {
			return nil, loaderrors.Usagef("source holds more than %s of partition data, the planning limit; split the load into smaller directories",
				humanize.IBytes(uint64(r.opts.MaxPlanBytes)))
		}
		groups[key] = append(groups[key], p)
		total++
	}

	units, err := r.buildUnits(rt, groups)
	if err != nil {
		return nil, err
	}

	assignments := make(map[model.HostAddress][]*model.RangeUnit)
	for _, u := range units {
		primary := u.Replicas.Primary()
		assignments[primary] = append(assignments[primary], u)
	}
	plan := model.NewStreamPlan(assignments)

	r.logger.Info("Stream plan built",
		zap.Int("partitions", total),
		zap.Int("units", plan.TotalUnits()),
		zap.Int("endpoints", len(plan.Endpoints())),
		zap.Int64("bytes", plan.TotalBytes()))

	return plan, nil
}

func (rt *routing) replicasFor(key tableRange) (model.ReplicaSet, error) {
	if rs, ok := rt.replicas[key]; ok {
		return rs, nil
	}

	rc, ok := rt.replication[key.table]
	if !ok {
		rc, ok = rt.snapshot.ReplicationFor(key.table)
		if !ok {
			return nil, loaderrors.Routing(fmt.Sprintf("no replication settings for table %s", key.table), nil)
		}
		rt.replication[key.table] = rc
	}

	rs, err := rt.ring.Replicas(key.index, rc)
	if err != nil {
		return nil, loaderrors.Routing(fmt.Sprintf("cannot place table %s", key.table), err)
	}
	rt.replicas[key] = rs
	return rs, nil
}

// buildUnits merges adjacent ranges with identical replicas per table, then
// splits the merged groups on the unit limits.
func (r *Router) buildUnits(rt *routing, groups map[tableRange][]model.PartitionRecord) ([]*model.RangeUnit, error) {
	byTable := make(map[model.TableID][]int)
	for key := range groups {
		byTable[key.table] = append(byTable[key.table], key.index)
	}

	tables := make([]model.TableID, 0, len(byTable))
	for t := range byTable {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].String() < tables[j].String() })

	var units []*model.RangeUnit
	for _, table := range tables {
		indices := byTable[table]
		sort.Ints(indices)

		seq := 0
		for start := 0; start < len(indices); {
			first := indices[start]
			rs, err := rt.replicasFor(tableRange{table, first})
			if err != nil {
				return nil, err
			}

			last := first
			parts := append([]model.PartitionRecord(nil), groups[tableRange{table, first}]...)
			next := start + 1
			for ; next < len(indices); next++ {
				ok, err := rt.sameReplicas(table, last+1, indices[next], rs)
				if err != nil {
					return nil, err
				}
				if !ok {
					break
				}
				last = indices[next]
				parts = append(parts, groups[tableRange{table, last}]...)
			}
			start = next

			rng := model.TokenRange{Start: rt.ring.RangeAt(first).Start, End: rt.ring.RangeAt(last).End}
			for _, u := range r.split(table, rng, rs, parts) {
				u.ID = fmt.Sprintf("%s/%d", table, seq)
				seq++
				units = append(units, u)
			}
		}
	}
	return units, nil
}

// sameReplicas checks that every ring entry in [from, to] places the table on rs
func (rt *routing) sameReplicas(table model.TableID, from, to int, rs model.ReplicaSet) (bool, error) {
	for i := from; i <= to; i++ {
		other, err := rt.replicasFor(tableRange{table, i})
		if err != nil {
			return false, err
		}
		if !other.Equal(rs) {
			return false, nil
		}
	}
	return true, nil
}

// split orders partitions by ring position inside rng and cuts units on the
// size limits. Partitions sharing a token always stay in one unit.
func (r *Router) split(table model.TableID, rng model.TokenRange, rs model.ReplicaSet, parts []model.PartitionRecord) []*model.RangeUnit {
	sort.SliceStable(parts, func(i, j int) bool {
		return parts[i].Token-rng.Start < parts[j].Token-rng.Start
	})

	var units []*model.RangeUnit
	cur := &model.RangeUnit{Table: table, Replicas: rs, Range: model.TokenRange{Start: rng.Start}}
	for i, p := range parts {
		full := len(cur.Partitions) >= r.opts.MaxUnitPartitions || cur.Bytes+p.Size() > r.opts.MaxUnitBytes
		if full && len(cur.Partitions) > 0 && p.Token != parts[i-1].Token {
			cur.Range.End = p.Token
			units = append(units, cur)
			cur = &model.RangeUnit{Table: table, Replicas: rs, Range: model.TokenRange{Start: p.Token}}
		}
		cur.Partitions = append(cur.Partitions, p)
		cur.Bytes += p.Size()
	}
	cur.Range.End = rng.End
	return append(units, cur)
}
