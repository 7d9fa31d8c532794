package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/devrev/pairdb/bulkloader/internal/model"
)

// Options configures gRPC connections
type Options struct {
	ConnectTimeout  time.Duration
	RequestTimeout  time.Duration
	SendTimeout     time.Duration
	FramePartitions int
	RunID           string

	// Throttle is shared by every connection of a run; nil disables throttling
	Throttle *rate.Limiter

	// Dialer replaces the network dialer (in-memory listeners in tests)
	Dialer func(context.Context, string) (net.Conn, error)
}

// GRPCClient opens control and streaming connections over gRPC
type GRPCClient struct {
	opts   Options
	logger *zap.Logger
}

// NewGRPCClient creates a new gRPC client
func NewGRPCClient(opts Options, logger *zap.Logger) *GRPCClient {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.SendTimeout == 0 {
		opts.SendTimeout = 5 * time.Minute
	}
	if opts.FramePartitions <= 0 {
		opts.FramePartitions = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCClient{opts: opts, logger: logger}
}

// NewThrottle returns a limiter for mbps megabits per second, or nil when mbps is not positive
func NewThrottle(mbps float64) *rate.Limiter {
	if mbps <= 0 {
		return nil
	}
	bytesPerSec := mbps * 1000 * 1000 / 8
	burst := int(bytesPerSec)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// IsConnectionLost reports whether a send error means the connection can no longer be used
func IsConnectionLost(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == codes.Unavailable
}

// Connect dials an endpoint and performs the health handshake
func (c *GRPCClient) Connect(ctx context.Context, addr model.HostAddress) (Conn, error) {
	cc, err := c.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &grpcConn{cc: cc, addr: addr, opts: c.opts}, nil
}

// DialControl dials a seed for ring queries
func (c *GRPCClient) DialControl(ctx context.Context, addr model.HostAddress) (ControlConn, error) {
	cc, err := c.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &grpcControlConn{cc: cc, addr: addr, opts: c.opts}, nil
}

func (c *GRPCClient) dial(ctx context.Context, addr model.HostAddress) (*grpc.ClientConn, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if c.opts.Dialer != nil {
		dialOpts = append(dialOpts, grpc.WithContextDialer(c.opts.Dialer))
	}

	cc, err := grpc.NewClient("passthrough:///"+addr.String(), dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", addr, err)
	}

	if err := c.handshake(ctx, cc, addr); err != nil {
		cc.Close()
		return nil, err
	}

	c.logger.Debug("Connected to endpoint", zap.String("endpoint", addr.String()))
	return cc, nil
}

// handshake checks the endpoint serves before any application call is made
func (c *GRPCClient) handshake(ctx context.Context, cc *grpc.ClientConn, addr model.HostAddress) error {
	hctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(cc).Check(hctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("handshake with %s failed: %w", addr, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return status.Errorf(codes.Unavailable, "endpoint %s is %s", addr, resp.GetStatus())
	}
	return nil
}

type grpcConn struct {
	cc   *grpc.ClientConn
	addr model.HostAddress
	opts Options
}

func (c *grpcConn) Endpoint() model.HostAddress {
	return c.addr
}

// Send streams one unit: a header frame, partition batches, then waits for the ack
func (c *grpcConn) Send(ctx context.Context, unit *model.RangeUnit) (int64, error) {
	sctx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
	defer cancel()

	stream, err := c.cc.NewStream(sctx, &loaderStreamDesc, streamMethod, callOptions()...)
	if err != nil {
		return 0, fmt.Errorf("failed to open stream to %s: %w", c.addr, err)
	}

	header := &StreamHeader{
		RunID:      c.opts.RunID,
		UnitID:     unit.ID,
		Table:      unit.Table,
		Range:      unit.Range,
		Partitions: len(unit.Partitions),
		Bytes:      unit.Bytes,
	}
	if err := c.sendFrame(stream, &StreamFrame{Header: header}); err != nil {
		return 0, err
	}

	for start := 0; start < len(unit.Partitions); start += c.opts.FramePartitions {
		end := min(start+c.opts.FramePartitions, len(unit.Partitions))

		batch := make([]WirePartition, 0, end-start)
		var size int64
		for i := start; i < end; i++ {
			wp := toWire(&unit.Partitions[i])
			size += wp.Size()
			batch = append(batch, wp)
		}

		if err := waitBytes(sctx, c.opts.Throttle, size); err != nil {
			return 0, fmt.Errorf("throttle wait for %s: %w", c.addr, err)
		}
		if err := c.sendFrame(stream, &StreamFrame{Partitions: batch}); err != nil {
			return 0, err
		}
	}

	if err := stream.CloseSend(); err != nil {
		return 0, fmt.Errorf("failed to close stream to %s: %w", c.addr, err)
	}

	ack := new(StreamAck)
	if err := stream.RecvMsg(ack); err != nil {
		return 0, fmt.Errorf("unit %s not acknowledged by %s: %w", unit.ID, c.addr, err)
	}
	if ack.Partitions != int64(len(unit.Partitions)) {
		return 0, status.Errorf(codes.DataLoss, "unit %s: %s acknowledged %d of %d partitions",
			unit.ID, c.addr, ack.Partitions, len(unit.Partitions))
	}

	return ack.Bytes, nil
}

func (c *grpcConn) sendFrame(stream grpc.ClientStream, frame *StreamFrame) error {
	err := stream.SendMsg(frame)
	if err == nil {
		return nil
	}
	if err == io.EOF {
		// The server ended the call early; its status comes back on RecvMsg
		err = stream.RecvMsg(new(StreamAck))
		if err == nil {
			err = status.Error(codes.Internal, "stream closed before all frames were sent")
		}
	}
	return fmt.Errorf("failed to send to %s: %w", c.addr, err)
}

func (c *grpcConn) Close() error {
	return c.cc.Close()
}

type grpcControlConn struct {
	cc   *grpc.ClientConn
	addr model.HostAddress
	opts Options
}

// DescribeRing fetches the ring from the seed and freezes it into a snapshot
func (c *grpcControlConn) DescribeRing(ctx context.Context) (*model.TopologySnapshot, error) {
	rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	resp := new(DescribeRingResponse)
	if err := c.cc.Invoke(rctx, describeRingMethod, &DescribeRingRequest{}, resp, callOptions()...); err != nil {
		return nil, fmt.Errorf("DescribeRing on %s failed: %w", c.addr, err)
	}

	return model.NewTopologySnapshot(resp.ClusterName, resp.Partitioner, resp.Tokens, resp.Replication, c.addr), nil
}

func (c *grpcControlConn) Close() error {
	return c.cc.Close()
}

// waitBytes blocks until the limiter admits n bytes, in burst-sized steps
func waitBytes(ctx context.Context, l *rate.Limiter, n int64) error {
	if l == nil {
		return nil
	}
	burst := int64(l.Burst())
	for n > 0 {
		step := min(n, burst)
		if err := l.WaitN(ctx, int(step)); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
