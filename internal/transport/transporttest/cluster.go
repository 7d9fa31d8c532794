// Package transporttest runs in-memory gRPC nodes serving the loader services.
package transporttest

import (
	"context"
	"net"
	"sort"
	"sync"
	"syscall"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/devrev/pairdb/bulkloader/internal/model"
	"github.com/devrev/pairdb/bulkloader/internal/transport"
)

const bufSize = 1024 * 1024

// Node is one in-memory endpoint. It records every unit it accepts.
type Node struct {
	Addr model.HostAddress

	lis    *bufconn.Listener
	server *grpc.Server
	health *health.Server

	mu        sync.Mutex
	units     []transport.StreamHeader
	received  []transport.WirePartition
	failCode  codes.Code
	failCount int
}

// Apply implements transport.Sink
func (n *Node) Apply(ctx context.Context, header *transport.StreamHeader, partitions []transport.WirePartition) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.failCount > 0 {
		n.failCount--
		return status.Errorf(n.failCode, "injected failure for unit %s", header.UnitID)
	}
	n.units = append(n.units, *header)
	n.received = append(n.received, partitions...)
	return nil
}

// FailNext makes the next count units fail with code
func (n *Node) FailNext(code codes.Code, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failCode = code
	n.failCount = count
}

// Units returns the headers of accepted units, in arrival order
func (n *Node) Units() []transport.StreamHeader {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]transport.StreamHeader, len(n.units))
	copy(out, n.units)
	return out
}

// Keys returns the keys of every accepted partition, sorted
func (n *Node) Keys() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	keys := make([]string, 0, len(n.received))
	for _, p := range n.received {
		keys = append(keys, string(p.Key))
	}
	sort.Strings(keys)
	return keys
}

// SetServing flips the health status reported to handshakes
func (n *Node) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_SERVING
	if !serving {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	n.health.SetServingStatus("", st)
}

// Stop shuts the node down; later dials fail
func (n *Node) Stop() {
	n.server.Stop()
}

type ringServer struct {
	mu   sync.RWMutex
	resp *transport.DescribeRingResponse
}

func (r *ringServer) DescribeRing(ctx context.Context, req *transport.DescribeRingRequest) (*transport.DescribeRingResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return (&transport.StaticTopology{Response: r.resp}).DescribeRing(ctx, req)
}

// Cluster is a set of in-memory nodes sharing one ring description
type Cluster struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	ring  *ringServer
}

// NewCluster starts one node per address. Nodes stop when the test ends.
func NewCluster(t testing.TB, addrs ...model.HostAddress) *Cluster {
	t.Helper()
	c := &Cluster{
		nodes: make(map[string]*Node, len(addrs)),
		ring:  &ringServer{},
	}
	for _, addr := range addrs {
		c.start(addr)
	}
	t.Cleanup(c.Close)
	return c
}

func (c *Cluster) start(addr model.HostAddress) {
	node := &Node{
		Addr:   addr,
		lis:    bufconn.Listen(bufSize),
		server: grpc.NewServer(),
		health: health.NewServer(),
	}

	healthpb.RegisterHealthServer(node.server, node.health)
	transport.RegisterTopologyServer(node.server, c.ring)
	transport.RegisterLoaderServer(node.server, transport.NewReceiver(node, nil))

	go func() {
		_ = node.server.Serve(node.lis)
	}()

	c.mu.Lock()
	c.nodes[addr.String()] = node
	c.mu.Unlock()
}

// SetRing sets the ring every node describes
func (c *Cluster) SetRing(resp *transport.DescribeRingResponse) {
	c.ring.mu.Lock()
	defer c.ring.mu.Unlock()
	c.ring.resp = resp
}

// Node returns the node listening on addr, or nil
func (c *Cluster) Node(addr model.HostAddress) *Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nodes[addr.String()]
}

// Dialer routes dials to the in-memory nodes. Unknown addresses are refused.
func (c *Cluster) Dialer() func(context.Context, string) (net.Conn, error) {
	return func(ctx context.Context, addr string) (net.Conn, error) {
		c.mu.RLock()
		node, ok := c.nodes[addr]
		c.mu.RUnlock()
		if !ok {
			return nil, &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
		}
		return node.lis.DialContext(ctx)
	}
}

// Close stops every node
func (c *Cluster) Close() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, node := range c.nodes {
		node.server.Stop()
	}
}
