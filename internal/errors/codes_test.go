package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestLoadError_CauseChain(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: stderrors.New("connection refused")}
	hostErr := HostUnavailable("no seed reachable", refused)
	wrapped := fmt.Errorf("bulk load failed: %w", hostErr)

	assert.True(t, Is(wrapped, ErrCodeHostUnavailable))
	assert.False(t, Is(wrapped, ErrCodeRouting))
	assert.Equal(t, ErrCodeHostUnavailable, GetCode(wrapped))

	var opErr *net.OpError
	require.True(t, stderrors.As(wrapped, &opErr))
	assert.Equal(t, "dial", opErr.Op)
	assert.Contains(t, wrapped.Error(), "connection refused")
}

func TestLoadError_NestedCodes(t *testing.T) {
	inner := HostUnavailable("endpoint down", nil)
	outer := PartialStreamFailure(1, 3, inner)

	assert.Equal(t, ErrCodePartialStreamFailure, GetCode(outer))
	assert.True(t, Is(outer, ErrCodeHostUnavailable))
	assert.Equal(t, 1, outer.Details["failed_units"])
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeOK, GetCode(nil))
	assert.Equal(t, ErrCodeInternal, GetCode(stderrors.New("plain")))
	assert.Equal(t, ErrCodeUsage, GetCode(Usagef("missing %s", "directory")))
}

func TestErrorCode_String(t *testing.T) {
	assert.Equal(t, "HostUnavailable", ErrCodeHostUnavailable.String())
	assert.Equal(t, "CorruptSource", ErrCodeCorruptSource.String())
	assert.Equal(t, "ErrorCode(42)", ErrorCode(42).String())
}

func TestToGRPCStatus(t *testing.T) {
	tests := []struct {
		err  *LoadError
		want codes.Code
	}{
		{Usagef("bad"), codes.InvalidArgument},
		{HostUnavailable("down", nil), codes.Unavailable},
		{CorruptSource("/tmp/a.sst", "bad magic", nil), codes.DataLoss},
		{Routing("no endpoints", nil), codes.FailedPrecondition},
		{InternalError("boom", nil), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Code.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.ToGRPCStatus().Code())
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", status.Error(codes.Unavailable, "down"), true},
		{"deadline status", status.Error(codes.DeadlineExceeded, "slow"), true},
		{"deadline context", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"permission", status.Error(codes.PermissionDenied, "no"), false},
		{"unimplemented", status.Error(codes.Unimplemented, "no"), false},
		{"net op", &net.OpError{Op: "dial", Err: stderrors.New("refused")}, true},
		{"plain", stderrors.New("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
