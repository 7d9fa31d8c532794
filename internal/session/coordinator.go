// Package session streams a plan to its endpoints, one task per endpoint.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	loaderrors "github.com/devrev/pairdb/bulkloader/internal/errors"
	"github.com/devrev/pairdb/bulkloader/internal/metrics"
	"github.com/devrev/pairdb/bulkloader/internal/model"
	"github.com/devrev/pairdb/bulkloader/internal/transport"
	"github.com/devrev/pairdb/bulkloader/internal/util/workerpool"
)

// Options configures connection retries and shutdown
type Options struct {
	MaxConnectAttempts int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	ShutdownTimeout    time.Duration
}

// Coordinator runs one streaming session per plan endpoint and aggregates
// their outcomes into a LoadResult
type Coordinator struct {
	connector transport.Connector
	opts      Options
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

type connectResult struct {
	endpoint model.HostAddress
	err      error
}

// NewCoordinator creates a new coordinator. m may be nil.
func NewCoordinator(connector transport.Connector, opts Options, m *metrics.Metrics, logger *zap.Logger) *Coordinator {
	if opts.MaxConnectAttempts <= 0 {
		opts.MaxConnectAttempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 200 * time.Millisecond
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		connector: connector,
		opts:      opts,
		metrics:   m,
		logger:    logger,
	}
}

// Execute streams every unit of plan and returns once all sessions and
// connections are closed.
//
// When no endpoint of any replica set accepts a connection the run fails with
// HostUnavailable and a nil result; nothing has been sent at that point. Cancellation returns the
// partial result together with a Canceled error. Units that could not be
// delivered anywhere are reported in the result, not as an error.
func (c *Coordinator) Execute(ctx context.Context, plan *model.StreamPlan) (*model.LoadResult, error) {
	start := time.Now()
	if plan == nil || plan.IsEmpty() {
		return &model.LoadResult{
			Endpoints:      map[string]model.EndpointOutcome{},
			Units:          []model.UnitOutcome{},
			OverallSuccess: true,
			Duration:       time.Since(start),
		}, nil
	}

	endpoints := plan.Endpoints()
	n := len(endpoints)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := workerpool.New(runCtx, workerpool.Config{
		Name:    "stream-sessions",
		Workers: n,
		Logger:  c.logger,
	})

	connected := make(chan connectResult, n)
	release := make(chan struct{})
	unitCh := make(chan model.UnitOutcome, plan.TotalUnits())
	sessionCh := make(chan model.EndpointOutcome, n)

	for _, ep := range endpoints {
		s := &session{
			coord:     c,
			units:     plan.UnitsFor(ep),
			state:     model.StreamSession{Endpoint: ep, State: model.SessionStateInit},
			connected: connected,
			release:   release,
			unitCh:    unitCh,
			sessionCh: sessionCh,
			logger:    c.logger.With(zap.String("endpoint", ep.String())),
		}
		if err := pool.Submit(workerpool.Task{ID: ep.String(), Fn: s.run}); err != nil {
			cancel()
			close(release)
			c.stopPool(pool)
			return nil, loaderrors.InternalError("failed to schedule streaming session", err)
		}
	}

	// Barrier: every session reports its connect outcome before any unit is sent
	var connectErrs error
	reachable := 0
	for i := 0; i < n; i++ {
		res := <-connected
		if res.err != nil {
			connectErrs = multierr.Append(connectErrs, res.err)
			continue
		}
		reachable++
	}

	if reachable == 0 && ctx.Err() == nil {
		// Units can still be rerouted to replicas that own none of them
		ok, replicaErrs := c.anyReplicaReachable(runCtx, plan)
		connectErrs = multierr.Append(connectErrs, replicaErrs)
		if !ok && ctx.Err() == nil {
			replicas := len(plan.ReplicaEndpoints())
			cancel()
			close(release)
			c.stopPool(pool)
			c.logger.Error("No endpoint reachable", zap.Int("endpoints", replicas), zap.Error(connectErrs))
			return nil, loaderrors.HostUnavailable(
				fmt.Sprintf("none of the %d replica endpoints accepted a connection", replicas), connectErrs)
		}
	}

	c.logger.Info("Streaming sessions connected",
		zap.Int("reachable", reachable),
		zap.Int("endpoints", n),
		zap.Int("units", plan.TotalUnits()))
	close(release)

	result := &model.LoadResult{Endpoints: make(map[string]model.EndpointOutcome, n)}
	for i := 0; i < n; i++ {
		out := <-sessionCh
		result.Endpoints[out.Endpoint.String()] = out
	}
	c.stopPool(pool)

	// Every unit outcome was sent before its session's outcome
	byID := make(map[string]model.UnitOutcome, plan.TotalUnits())
	for drained := false; !drained; {
		select {
		case u := <-unitCh:
			byID[u.UnitID] = u
		default:
			drained = true
		}
	}

	result.Units = make([]model.UnitOutcome, 0, plan.TotalUnits())
	result.OverallSuccess = true
	for _, ep := range endpoints {
		for _, unit := range plan.UnitsFor(ep) {
			out, ok := byID[unit.ID]
			if !ok {
				out = model.UnitOutcome{
					UnitID:  unit.ID,
					Table:   unit.Table,
					Range:   unit.Range,
					Primary: ep,
					Err:     loaderrors.InternalError("unit "+unit.ID+" was never attempted", nil),
				}
			}
			if !out.Completed() {
				result.OverallSuccess = false
			}
			result.Units = append(result.Units, out)
		}
	}
	result.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		result.OverallSuccess = false
		return result, loaderrors.Canceled("load canceled", err)
	}
	return result, nil
}

// connect opens a connection to ep, retrying transient failures with
// exponential backoff
func (c *Coordinator) connect(ctx context.Context, ep model.HostAddress) (transport.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxInterval = c.opts.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.opts.MaxConnectAttempts-1)), ctx)

	var conn transport.Conn
	attempts := 0
	op := func() error {
		attempts++
		cn, err := c.connector.Connect(ctx, ep)
		c.metrics.RecordConnect(err)
		if err != nil {
			if !loaderrors.IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = cn
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("Connect attempt failed, retrying",
			zap.String("endpoint", ep.String()),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, fmt.Errorf("connect %s after %d attempt(s): %w", ep, attempts, err)
	}
	return conn, nil
}

// anyReplicaReachable connects to the replica endpoints that run no session and
// reports whether any of them accepted. The test connection is closed again;
// sessions open their own fallback connections once released.
func (c *Coordinator) anyReplicaReachable(ctx context.Context, plan *model.StreamPlan) (bool, error) {
	owners := make(map[model.HostAddress]bool)
	for _, ep := range plan.Endpoints() {
		owners[ep] = true
	}

	var errs error
	for _, ep := range plan.ReplicaEndpoints() {
		if owners[ep] {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		conn, err := c.connect(ctx, ep)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		_ = conn.Close()
		c.logger.Warn("No primary reachable, rerouting every unit",
			zap.String("reachable_replica", ep.String()))
		return true, nil
	}
	return false, errs
}

func (c *Coordinator) stopPool(pool *workerpool.Pool) {
	if err := pool.Stop(c.opts.ShutdownTimeout); err != nil {
		c.logger.Warn("Streaming sessions did not stop in time", zap.Error(err))
	}
}
