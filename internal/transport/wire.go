package transport

import (
	"github.com/devrev/pairdb/bulkloader/internal/model"
	"github.com/devrev/pairdb/bulkloader/internal/util"
)

// DescribeRingRequest asks a node for its view of the ring
type DescribeRingRequest struct{}

// DescribeRingResponse carries ring ownership and replication settings
type DescribeRingResponse struct {
	ClusterName string                             `json:"cluster_name"`
	Partitioner string                             `json:"partitioner"`
	Tokens      []model.RingEntry                  `json:"tokens"`
	Replication map[string]model.ReplicationConfig `json:"replication"`
}

// StreamHeader opens a Stream call and describes the unit that follows
type StreamHeader struct {
	RunID      string           `json:"run_id"`
	UnitID     string           `json:"unit_id"`
	Table      model.TableID    `json:"table"`
	Range      model.TokenRange `json:"range"`
	Partitions int              `json:"partitions"`
	Bytes      int64            `json:"bytes"`
}

// WirePartition is one partition on the wire. Checksum covers key then payload.
type WirePartition struct {
	Key      []byte `json:"key"`
	Token    uint64 `json:"token"`
	Payload  []byte `json:"payload"`
	Checksum uint32 `json:"checksum"`
}

// Size returns the bytes the partition accounts for
func (p *WirePartition) Size() int64 {
	return int64(len(p.Key) + len(p.Payload))
}

// Valid checks the partition checksum
func (p *WirePartition) Valid() bool {
	return util.ComputeChecksumParts(p.Key, p.Payload) == p.Checksum
}

// StreamFrame is one client message of a Stream call. The first frame carries
// only the header; the rest carry partition batches.
type StreamFrame struct {
	Header     *StreamHeader   `json:"header,omitempty"`
	Partitions []WirePartition `json:"partitions,omitempty"`
}

// StreamAck closes a Stream call
type StreamAck struct {
	Partitions int64 `json:"partitions"`
	Bytes      int64 `json:"bytes"`
}

func toWire(p *model.PartitionRecord) WirePartition {
	return WirePartition{
		Key:      p.Key,
		Token:    uint64(p.Token),
		Payload:  p.Payload,
		Checksum: util.ComputeChecksumParts(p.Key, p.Payload),
	}
}
