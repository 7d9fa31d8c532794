package ring

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/devrev/pairdb/bulkloader/internal/model"
)

// Partitioner names as reported by the cluster
const (
	PartitionerSHA256 = "sha256"
	PartitionerXXHash = "xxhash"
)

// Partitioner maps a partition key to its ring token
type Partitioner interface {
	Name() string
	Token(key []byte) model.Token
}

// NewPartitioner returns the partitioner for a cluster-reported name
func NewPartitioner(name string) (Partitioner, error) {
	switch strings.ToLower(name) {
	case PartitionerSHA256, "":
		return sha256Partitioner{}, nil
	case PartitionerXXHash:
		return xxhashPartitioner{}, nil
	default:
		return nil, fmt.Errorf("unsupported partitioner %q", name)
	}
}

// sha256Partitioner takes the first 8 bytes of SHA-256, big endian.
// It matches the coordinator's ring hash.
type sha256Partitioner struct{}

func (sha256Partitioner) Name() string { return PartitionerSHA256 }

func (sha256Partitioner) Token(key []byte) model.Token {
	sum := sha256.Sum256(key)
	return model.Token(binary.BigEndian.Uint64(sum[:8]))
}

type xxhashPartitioner struct{}

func (xxhashPartitioner) Name() string { return PartitionerXXHash }

func (xxhashPartitioner) Token(key []byte) model.Token {
	return model.Token(xxhash.Sum64(key))
}
