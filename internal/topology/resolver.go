package topology

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	loaderrors "github.com/devrev/pairdb/bulkloader/internal/errors"
	"github.com/devrev/pairdb/bulkloader/internal/model"
	"github.com/devrev/pairdb/bulkloader/internal/transport"
)

// Resolver fetches one topology snapshot from the first reachable seed
type Resolver struct {
	dialer transport.ControlDialer
	logger *zap.Logger
}

// NewResolver creates a new resolver
func NewResolver(dialer transport.ControlDialer, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{dialer: dialer, logger: logger}
}

// Resolve tries seeds in order and returns the snapshot of the first one that
// answers. Every control connection is closed before Resolve returns.
func (r *Resolver) Resolve(ctx context.Context, seeds []model.HostAddress) (*model.TopologySnapshot, error) {
	if len(seeds) == 0 {
		return nil, loaderrors.Usagef("at least one seed address is required")
	}

	var errs error
	for _, seed := range seeds {
		if err := ctx.Err(); err != nil {
			return nil, loaderrors.Canceled("topology resolution canceled", err)
		}

		snapshot, err := r.fetch(ctx, seed)
		if err != nil {
			r.logger.Warn("Seed unreachable",
				zap.String("seed", seed.String()),
				zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}

		r.logger.Info("Resolved ring topology",
			zap.String("seed", seed.String()),
			zap.String("cluster", snapshot.ClusterName()),
			zap.String("partitioner", snapshot.Partitioner()),
			zap.Int("tokens", snapshot.Len()),
			zap.Int("endpoints", len(snapshot.Endpoints())))
		return snapshot, nil
	}

	if ctx.Err() != nil {
		return nil, loaderrors.Canceled("topology resolution canceled", ctx.Err())
	}
	return nil, loaderrors.HostUnavailable(
		fmt.Sprintf("no seed reachable (tried %s)", joinAddrs(seeds)), errs).
		WithDetail("seeds", len(seeds))
}

func (r *Resolver) fetch(ctx context.Context, seed model.HostAddress) (*model.TopologySnapshot, error) {
	conn, err := r.dialer.DialControl(ctx, seed)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			r.logger.Debug("Failed to close control connection",
				zap.String("seed", seed.String()),
				zap.Error(cerr))
		}
	}()

	return conn.DescribeRing(ctx)
}

// ParseSeeds parses seed tokens, splitting comma-separated lists. A port embedded
// in a token wins over defaultPort.
func ParseSeeds(tokens []string, defaultPort int) ([]model.HostAddress, error) {
	seeds := make([]model.HostAddress, 0, len(tokens))
	seen := make(map[model.HostAddress]bool)
	for _, token := range tokens {
		for _, part := range strings.Split(token, ",") {
			addr, err := model.ParseHostAddress(part, defaultPort)
			if err != nil {
				return nil, loaderrors.Usage("invalid seed address", err)
			}
			if !seen[addr] {
				seen[addr] = true
				seeds = append(seeds, addr)
			}
		}
	}
	return seeds, nil
}

func joinAddrs(addrs []model.HostAddress) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}
