package transport

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	loaderrors "github.com/devrev/pairdb/bulkloader/internal/errors"
)

// maxPrealloc caps the partition slice sized from a header; the count is
// client supplied
const maxPrealloc = 4096

// Sink applies the partitions of one fully received unit
type Sink interface {
	Apply(ctx context.Context, header *StreamHeader, partitions []WirePartition) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, header *StreamHeader, partitions []WirePartition) error

// Apply calls f
func (f SinkFunc) Apply(ctx context.Context, header *StreamHeader, partitions []WirePartition) error {
	return f(ctx, header, partitions)
}

// Receiver is the node side of the Loader service. A unit reaches the sink only
// after every partition arrived with a valid checksum.
type Receiver struct {
	sink   Sink
	logger *zap.Logger
}

// NewReceiver creates a new receiver
func NewReceiver(sink Sink, logger *zap.Logger) *Receiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{sink: sink, logger: logger}
}

// Stream implements LoaderServer
func (r *Receiver) Stream(stream LoaderStreamServer) error {
	first, err := stream.Recv()
	if err == io.EOF {
		return status.Error(codes.InvalidArgument, "empty stream")
	}
	if err != nil {
		return err
	}
	if first.Header == nil {
		return status.Error(codes.InvalidArgument, "first frame must carry a header")
	}
	header := first.Header
	if header.Partitions < 0 {
		return status.Errorf(codes.InvalidArgument, "unit %s: negative partition count %d", header.UnitID, header.Partitions)
	}

	partitions := make([]WirePartition, 0, min(header.Partitions, maxPrealloc))
	var bytes int64
	for {
		frame, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if frame.Header != nil {
			return status.Errorf(codes.InvalidArgument, "unit %s: header sent twice", header.UnitID)
		}
		for i := range frame.Partitions {
			p := frame.Partitions[i]
			if !p.Valid() {
				return status.Errorf(codes.DataLoss, "unit %s: checksum mismatch for key %q", header.UnitID, p.Key)
			}
			bytes += p.Size()
			partitions = append(partitions, p)
		}
	}

	if len(partitions) != header.Partitions {
		return status.Errorf(codes.DataLoss, "unit %s: received %d of %d partitions",
			header.UnitID, len(partitions), header.Partitions)
	}

	if err := r.sink.Apply(stream.Context(), header, partitions); err != nil {
		var le *loaderrors.LoadError
		if errors.As(err, &le) {
			return le.ToGRPCStatus().Err()
		}
		if _, ok := status.FromError(err); ok {
			return err
		}
		return status.Errorf(codes.Internal, "unit %s: %v", header.UnitID, err)
	}

	r.logger.Debug("Received range unit",
		zap.String("run_id", header.RunID),
		zap.String("unit_id", header.UnitID),
		zap.String("table", header.Table.String()),
		zap.Int("partitions", len(partitions)),
		zap.Int64("bytes", bytes))

	return stream.SendAndClose(&StreamAck{Partitions: int64(len(partitions)), Bytes: bytes})
}

// StaticTopology serves a fixed ring description
type StaticTopology struct {
	Response *DescribeRingResponse
}

// DescribeRing implements TopologyServer
func (s *StaticTopology) DescribeRing(ctx context.Context, _ *DescribeRingRequest) (*DescribeRingResponse, error) {
	if s.Response == nil {
		return nil, status.Error(codes.FailedPrecondition, "ring not available")
	}
	return s.Response, nil
}
