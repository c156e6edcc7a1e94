package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/ipactable/internal/service"
	"github.com/ajitpratap0/ipactable/pkg/config"
	ipaerrors "github.com/ajitpratap0/ipactable/pkg/errors"
	"github.com/ajitpratap0/ipactable/pkg/logger"
	"github.com/ajitpratap0/ipactable/pkg/metrics"
	"github.com/ajitpratap0/ipactable/pkg/observability"
)

var version = "0.1.0"

// app holds what every command shares once flags and configuration are
// resolved.
type app struct {
	v       *viper.Viper
	cfg     *config.Config
	svc     *service.Service
	log     *zap.Logger
	out     io.Writer
	compact bool

	cleanups []func(context.Context) error
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := &app{v: viper.New(), out: os.Stdout}
	root := a.rootCommand()

	err := root.ExecuteContext(ctx)
	closeErr := a.close(ctx)
	stop()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error category onto the process exit status.
func exitCode(err error) int {
	switch ipaerrors.TypeOf(err) {
	case ipaerrors.ErrorTypeValidation, ipaerrors.ErrorTypeConfig:
		return 2
	case ipaerrors.ErrorTypeNotFound:
		return 3
	case ipaerrors.ErrorTypeTimeout, ipaerrors.ErrorTypeUnavailable:
		return 4
	case ipaerrors.ErrorTypeConflict:
		return 5
	}
	return 1
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "ipactable",
		Short: "Write, read and filter IPAC fixed-width table files",
		Long: `ipactable streams rows from files and databases into IPAC ASCII tables.
The first rows are written before the command reports the file; the rest are
appended by a background writer while the file is readable with status IN_PROGRESS.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "Path to a YAML configuration file")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("log-encoding", "", "Log encoding (json or console)")
	pf.String("work-dir", "", "Directory relative table paths resolve against")
	pf.Int("prefetch", 0, "Rows written before the background writer takes over")
	pf.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	pf.Bool("tracing", false, "Export OpenTelemetry spans to stderr")
	pf.BoolVar(&a.compact, "compact", false, "Print JSON on a single line")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "ipactable v%s\n", version)
			fmt.Fprintf(a.out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(a.out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}

	root.AddCommand(
		versionCmd,
		a.sourcesCommand(),
		a.searchCommand(),
		a.filterCommand(),
		a.metaCommand(),
		a.statusCommand(),
		a.waitCommand(),
		a.rangeCommand(),
		a.cellsCommand(),
		a.exportCommand(),
		a.publishCommand(),
	)
	return root
}

// setup resolves the configuration and starts logging, tracing, metrics and
// the table service.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.v, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	obs := cfg.Observability
	if err := logger.Init(logger.Config{Level: obs.LogLevel, Encoding: obs.LogEncoding}); err != nil {
		return err
	}
	a.log = logger.With(zap.String("component", "ipactable-cli"), zap.String("command", cmd.Name()))
	a.cleanups = append(a.cleanups, func(context.Context) error {
		_ = logger.Sync()
		return nil
	})

	if obs.EnableTracing {
		tc := observability.DefaultTracingConfig()
		tc.ServiceVersion = version
		tc.SamplingRate = obs.TracingSampleRate
		tc.Writer = os.Stderr
		shutdown, err := observability.InitTracing(tc)
		if err != nil {
			return err
		}
		a.cleanups = append(a.cleanups, shutdown)
	}

	if obs.MetricsAddr != "" {
		a.serveMetrics(obs.MetricsAddr)
	}

	svc, err := service.New(cfg, service.WithLogger(a.log))
	if err != nil {
		return err
	}
	a.svc = svc

	ctx := context.WithValue(cmd.Context(), logger.RequestIDKey, uuid.NewString())
	cmd.SetContext(ctx)
	return nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	a.log.Info("serving metrics", zap.String("addr", addr))
	a.cleanups = append(a.cleanups, srv.Shutdown)
}

// close waits for background writers, then releases everything setup started.
// An interrupted ctx cancels the writers, leaving their files PARTIAL.
func (a *app) close(ctx context.Context) error {
	var err error
	if a.svc != nil {
		wait := a.cfg.Reader.WaitTimeout
		cctx, cancel := context.WithTimeout(ctx, wait)
		if cerr := a.svc.Close(cctx); cerr != nil {
			err = ipaerrors.Wrap(cerr, ipaerrors.ErrorTypeTimeout, "background writers did not finish")
		}
		cancel()
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if cerr := a.cleanups[i](sctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// print writes v as JSON to the command output.
func (a *app) print(v any) error {
	enc := gojson.NewEncoder(a.out)
	if !a.compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
