// Package loader drives one bulk load: resolve the ring, read the source
// directory, route partitions and stream the plan.
package loader

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/bulkloader/internal/config"
	loaderrors "github.com/devrev/pairdb/bulkloader/internal/errors"
	"github.com/devrev/pairdb/bulkloader/internal/metrics"
	"github.com/devrev/pairdb/bulkloader/internal/model"
	"github.com/devrev/pairdb/bulkloader/internal/router"
	"github.com/devrev/pairdb/bulkloader/internal/server"
	"github.com/devrev/pairdb/bulkloader/internal/session"
	"github.com/devrev/pairdb/bulkloader/internal/source"
	"github.com/devrev/pairdb/bulkloader/internal/topology"
	"github.com/devrev/pairdb/bulkloader/internal/transport"
)

// Options is everything a run needs. Nothing outside it is consulted.
type Options struct {
	// Seeds are host[:port] tokens; comma-separated lists are accepted
	Seeds []string
	// DefaultPort applies to seeds without an embedded port; 0 uses the config
	DefaultPort int
	Directory   string
	// Ignore lists endpoints that must never receive data
	Ignore []string
	// RunID tags stream headers and logs; generated when empty
	RunID string
	// Config carries tuning; nil means config.Default()
	Config *config.Config
}

// Dependencies are the collaborators of a run. Zero values select the
// production implementations.
type Dependencies struct {
	ControlDialer transport.ControlDialer
	Connector     transport.Connector

	// Dialer replaces the network dialer of the default gRPC client
	Dialer func(context.Context, string) (net.Conn, error)

	Metrics *metrics.Metrics
	Logger  *zap.Logger

	// Report receives the end-of-run summary; nil skips it
	Report io.Writer
}

type runInputs struct {
	seeds   []model.HostAddress
	ignored []model.HostAddress
	cfg     *config.Config
}

// Run executes one bulk load and returns only after every session and
// connection it opened is closed. A nil error means every unit completed.
func Run(ctx context.Context, opts Options, deps Dependencies) (*model.LoadResult, error) {
	start := time.Now()

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	in, err := validate(opts)
	if err != nil {
		return nil, err
	}
	cfg := in.cfg

	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	logger = logger.With(zap.String("run_id", runID))

	m := deps.Metrics
	if m == nil && cfg.Metrics.Enabled {
		m = metrics.NewMetrics(nil)
	}
	if cfg.Metrics.Enabled {
		ms := server.NewMetricsServer(&server.MetricsServerConfig{
			Addr: cfg.Metrics.Addr,
			Path: cfg.Metrics.Path,
		}, m, logger)
		if err := ms.Start(); err != nil {
			return nil, loaderrors.Usage("cannot start metrics server", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := ms.Stop(sctx); err != nil {
				logger.Warn("Failed to stop metrics server", zap.Error(err))
			}
		}()
	}

	var client *transport.GRPCClient
	if deps.ControlDialer == nil || deps.Connector == nil {
		client = transport.NewGRPCClient(transport.Options{
			ConnectTimeout:  cfg.Streaming.ConnectTimeout,
			RequestTimeout:  cfg.Control.RequestTimeout,
			SendTimeout:     cfg.Streaming.SendTimeout,
			FramePartitions: cfg.Streaming.FramePartitions,
			RunID:           runID,
			Throttle:        transport.NewThrottle(cfg.Streaming.ThrottleMbps),
			Dialer:          deps.Dialer,
		}, logger)
	}
	controlDialer := deps.ControlDialer
	if controlDialer == nil {
		controlDialer = controlClient{client: client, timeout: cfg.Control.ConnectTimeout}
	}
	connector := deps.Connector
	if connector == nil {
		connector = client
	}

	logger.Info("Starting bulk load",
		zap.String("directory", opts.Directory),
		zap.Int("seeds", len(in.seeds)),
		zap.Int("ignored", len(in.ignored)))

	// Resolve
	snapshot, err := topology.NewResolver(controlDialer, logger).Resolve(ctx, in.seeds)
	if err != nil {
		return nil, err
	}
	for _, ep := range in.ignored {
		if !snapshot.HasEndpoint(ep) {
			logger.Warn("Ignored endpoint is not part of the ring", zap.String("endpoint", ep.String()))
		}
	}

	// Enumerate
	enumeration, err := source.NewEnumerator(source.Options{
		TargetKeyspace:   cfg.Source.TargetKeyspace,
		ValidateParallel: cfg.Source.ValidateParallel,
		MaxKeySize:       cfg.Source.MaxKeySize,
		MaxValueSize:     cfg.Source.MaxValueSize,
	}, logger).Enumerate(ctx, opts.Directory)
	if err != nil {
		return nil, err
	}
	defer enumeration.Close()
	m.RecordSource(len(enumeration.Files()))

	// Route
	plan, err := router.NewRouter(router.Options{
		Ignored:           in.ignored,
		MaxUnitBytes:      cfg.Streaming.MaxUnitBytes,
		MaxUnitPartitions: cfg.Streaming.MaxUnitPartitions,
		MaxPlanBytes:      cfg.Streaming.MaxPlanBytes,
	}, logger).Route(ctx, snapshot, enumeration)
	if err != nil {
		return nil, err
	}
	m.RecordPlan(enumeration.TotalEntries(), plan.TotalUnits())

	if plan.IsEmpty() {
		logger.Warn("Source directory holds no partitions, nothing to stream")
	}

	// Execute
	result, err := session.NewCoordinator(connector, session.Options{
		MaxConnectAttempts: cfg.Streaming.MaxConnectAttempts,
		InitialBackoff:     cfg.Streaming.InitialBackoff,
		MaxBackoff:         cfg.Streaming.MaxBackoff,
		ShutdownTimeout:    cfg.Streaming.ShutdownTimeout,
	}, m, logger).Execute(ctx, plan)
	if result != nil {
		result.Duration = time.Since(start)
		m.RecordRun(result.Duration.Seconds())
		if deps.Report != nil {
			WriteReport(deps.Report, runID, result)
		}
	}
	if err != nil {
		return result, err
	}

	if !result.OverallSuccess {
		failed := result.FailedUnits()
		var causes error
		for _, u := range failed {
			causes = multierr.Append(causes, fmt.Errorf("unit %s: %w", u.UnitID, u.Err))
		}
		logger.Error("Bulk load incomplete",
			zap.Int("failed_units", len(failed)),
			zap.Int("total_units", len(result.Units)))
		return result, loaderrors.PartialStreamFailure(len(failed), len(result.Units), causes)
	}

	logger.Info("Bulk load complete",
		zap.Int("units", len(result.Units)),
		zap.Int64("bytes", result.BytesSent()),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// ExitCode maps a run's error to the process exit status
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

// validate checks every input before any network call
func validate(opts Options) (*runInputs, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, loaderrors.Usage("invalid configuration", err)
	}

	if opts.Directory == "" {
		return nil, loaderrors.Usagef("a source directory is required")
	}
	info, err := os.Stat(opts.Directory)
	if err != nil {
		return nil, loaderrors.Usage("cannot read source directory "+opts.Directory, err)
	}
	if !info.IsDir() {
		return nil, loaderrors.Usagef("%s is not a directory", opts.Directory)
	}

	port := opts.DefaultPort
	if port == 0 {
		port = cfg.Control.DefaultPort
	}
	if port < 1 || port > 65535 {
		return nil, loaderrors.Usagef("port %d out of range", port)
	}

	seeds, err := topology.ParseSeeds(opts.Seeds, port)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, loaderrors.Usagef("at least one seed address is required")
	}

	ignored, err := topology.ParseSeeds(append(append([]string(nil), cfg.Ignore...), opts.Ignore...), port)
	if err != nil {
		return nil, loaderrors.Usage("invalid ignore list", err)
	}

	return &runInputs{seeds: seeds, ignored: ignored, cfg: cfg}, nil
}

// controlClient bounds each control dial by the control connect timeout
type controlClient struct {
	client  *transport.GRPCClient
	timeout time.Duration
}

func (c controlClient) DialControl(ctx context.Context, addr model.HostAddress) (transport.ControlConn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.DialControl(dctx, addr)
}
