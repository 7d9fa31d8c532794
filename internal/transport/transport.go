package transport

import (
	"context"

	"github.com/devrev/pairdb/bulkloader/internal/model"
)

// Connector opens streaming connections to ring endpoints.
// Connect returns only after the endpoint answered the handshake.
type Connector interface {
	Connect(ctx context.Context, addr model.HostAddress) (Conn, error)
}

// Conn is one streaming connection. A Conn is used by a single goroutine.
type Conn interface {
	// Send streams a range unit and returns the bytes the endpoint acknowledged
	Send(ctx context.Context, unit *model.RangeUnit) (int64, error)
	Endpoint() model.HostAddress
	Close() error
}

// ControlDialer opens control connections used to fetch the ring
type ControlDialer interface {
	DialControl(ctx context.Context, addr model.HostAddress) (ControlConn, error)
}

// ControlConn is a control connection to one seed
type ControlConn interface {
	DescribeRing(ctx context.Context) (*model.TopologySnapshot, error)
	Close() error
}
