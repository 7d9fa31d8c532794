package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/devrev/pairdb/bulkloader/internal/config"
	loaderrors "github.com/devrev/pairdb/bulkloader/internal/errors"
	"github.com/devrev/pairdb/bulkloader/internal/loader"
)

const envPrefix = "BULKLOAD"

type cliFlags struct {
	nodes          []string
	port           int
	ignore         []string
	throttle       float64
	targetKeyspace string
	configPath     string
	connectTimeout time.Duration
	maxRetries     int
	metricsAddr    string
	verbose        bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line and returns the process exit code
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand(stdout, stderr)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error (%s): %v\n", loaderrors.GetCode(err), err)
		return loader.ExitCode(err)
	}
	return 0
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	f := &cliFlags{}
	cmd := &cobra.Command{
		Use:   "bulkload [flags] <source-directory>",
		Short: "Stream a directory of SSTables into a PairDB cluster",
		Long: `Stream a directory of SSTables into a PairDB cluster.

The ring is read from the first reachable node given with -d, every partition
is routed to the replicas owning its token, and each replica receives its
share over a dedicated stream. Every flag can also be set through the
environment as BULKLOAD_<FLAG>, for example BULKLOAD_NODES or
BULKLOAD_CONNECT_TIMEOUT; a flag on the command line wins.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				fmt.Fprint(stderr, cmd.UsageString())
				return loaderrors.Usagef("expected exactly one source directory, got %d arguments", len(args))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setAllConfig(viper.New(), cmd.Flags()); err != nil {
				return loaderrors.Usage("invalid environment configuration", err)
			}
			return runLoad(cmd.Context(), f, cmd.Flags(), args[0], stdout, stderr)
		},
	}

	registerFlags(cmd.Flags(), f)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd
}

func registerFlags(flags *pflag.FlagSet, f *cliFlags) {
	flags.StringSliceVarP(&f.nodes, "nodes", "d", nil, "Seed nodes to read the ring from (host[:port], comma separated)")
	flags.IntVarP(&f.port, "port", "p", 0, "Default port for seeds without one (default from config, 50051)")
	flags.StringSliceVarP(&f.ignore, "ignore", "i", nil, "Endpoints that must not receive data (host[:port], comma separated)")
	flags.Float64VarP(&f.throttle, "throttle", "t", 0, "Throttle speed in Mbits per second (0 disables, overriding the config file)")
	flags.StringVar(&f.targetKeyspace, "target-keyspace", "", "Load every table into this keyspace instead of the one in the directory layout")
	flags.StringVarP(&f.configPath, "config", "c", "", "YAML configuration file")
	flags.DurationVar(&f.connectTimeout, "connect-timeout", 0, "Connect and handshake timeout per endpoint")
	flags.IntVar(&f.maxRetries, "max-retries", 0, "Connection retries per endpoint after the first attempt, before rerouting its units")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while loading")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "Verbose logging")
}

func runLoad(ctx context.Context, f *cliFlags, flags *pflag.FlagSet, dir string, stdout, stderr io.Writer) error {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.LoadConfig(f.configPath)
		if err != nil {
			return loaderrors.Usage("cannot load configuration", err)
		}
		cfg = loaded
	}
	applyFlags(cfg, f, flags)

	logger, err := newLogger(cfg.Logging, stderr)
	if err != nil {
		return loaderrors.Usage("invalid logging configuration", err)
	}
	defer logger.Sync()

	_, err = loader.Run(ctx, loader.Options{
		Seeds:       f.nodes,
		DefaultPort: f.port,
		Directory:   dir,
		Ignore:      f.ignore,
		Config:      cfg,
	}, loader.Dependencies{
		Logger: logger,
		Report: stdout,
	})
	return err
}

// applyFlags overlays flags that were given, on the command line or through
// the environment, on top of the file configuration
func applyFlags(cfg *config.Config, f *cliFlags, flags *pflag.FlagSet) {
	if flags.Changed("throttle") {
		cfg.Streaming.ThrottleMbps = f.throttle
	}
	if flags.Changed("target-keyspace") {
		cfg.Source.TargetKeyspace = f.targetKeyspace
	}
	if flags.Changed("connect-timeout") {
		cfg.Control.ConnectTimeout = f.connectTimeout
		cfg.Streaming.ConnectTimeout = f.connectTimeout
	}
	if flags.Changed("max-retries") {
		cfg.Streaming.MaxConnectAttempts = f.maxRetries + 1
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Enabled = f.metricsAddr != ""
		cfg.Metrics.Addr = f.metricsAddr
	}
	if f.verbose {
		cfg.Logging.Level = "debug"
	}
}

// setAllConfig fills every flag not given on the command line from its
// BULKLOAD_<FLAG> environment variable (dashes become underscores)
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed || !v.IsSet(f.Name) {
			return
		}
		var value string
		if f.Value.Type() == "stringSlice" {
			value = strings.Join(v.GetStringSlice(f.Name), ",")
		} else {
			value = v.GetString(f.Name)
		}
		// FlagSet.Set marks the flag changed, so env values count as given
		if err := flags.Set(f.Name, value); err != nil {
			flagErr = fmt.Errorf("%s_%s: %w", envPrefix, strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")), err)
		}
	})
	return flagErr
}

// newLogger builds the zap logger writing to w
func newLogger(cfg config.LoggingConfig, w io.Writer) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if cfg.Format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), level)), nil
}
