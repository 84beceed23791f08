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
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gpkgsink/internal/sink"
	"github.com/ajitpratap0/gpkgsink/pkg/config"
	"github.com/ajitpratap0/gpkgsink/pkg/entity"
	"github.com/ajitpratap0/gpkgsink/pkg/feedback"
	"github.com/ajitpratap0/gpkgsink/pkg/logger"
	"github.com/ajitpratap0/gpkgsink/pkg/metrics"
	"github.com/ajitpratap0/gpkgsink/pkg/observability"
)

var version = "0.1.0"

// exitCanceled is the conventional exit status after SIGINT.
const exitCanceled = 130

var errCanceled = errors.New("run canceled")

// runFlags holds the flags of the run command.
type runFlags struct {
	input       string
	schema      string
	output      string
	configFile  string
	workers     int
	queueSize   int
	logLevel    string
	metricsAddr string
	trace       bool
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		if errors.Is(err, errCanceled) {
			os.Exit(exitCanceled)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "gpkgsink",
		Short: "gpkgsink - materialize city model entities into GeoPackages",
		Long: `gpkgsink reads city model entities, writes one GeoPackage per feature type
and bundles the files into a single archive.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gpkgsink v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "names",
		Short: "List the localized output file names per feature type",
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, e := range sink.LocalizedNames() {
				fmt.Fprintf(tw, "%s\t%s\n", e.TypeName, e.Name+sink.FileExt)
			}
			return tw.Flush()
		},
	})

	var flags runFlags
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Materialize an entity dump",
		Long: `Materialize a JSON-lines entity dump into GeoPackages.

Example:
  gpkgsink run --input entities.jsonl --schema schema.json --output out/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &flags)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			return runMaterialize(cmd.Context(), cmd.OutOrStdout(), cfg, &flags)
		},
	}

	runCmd.Flags().StringVarP(&flags.input, "input", "i", "", "Path to the JSON-lines entity dump (required)")
	runCmd.Flags().StringVarP(&flags.schema, "schema", "s", "", "Path to the schema JSON file (required)")
	_ = runCmd.MarkFlagRequired("input")
	_ = runCmd.MarkFlagRequired("schema")

	runCmd.Flags().StringVarP(&flags.output, "output", "o", "", "Output directory (overrides output.dir)")
	runCmd.Flags().StringVarP(&flags.configFile, "config", "c", "", "Path to a YAML configuration file")
	runCmd.Flags().IntVar(&flags.workers, "workers", runtime.NumCPU(), "Number of producer goroutines")
	runCmd.Flags().IntVar(&flags.queueSize, "queue-size", config.DefaultQueueSize, "Capacity of the producer queue")
	runCmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	runCmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	runCmd.Flags().BoolVar(&flags.trace, "trace", false, "Export trace spans to stderr")

	root.AddCommand(runCmd)
	return root
}

// loadConfig reads the optional config file and applies explicitly set flags on top.
func loadConfig(cmd *cobra.Command, flags *runFlags) (*config.Config, error) {
	cfg := config.NewConfig()
	if flags.configFile != "" {
		loaded, err := config.LoadFile(flags.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if changed("output") {
		cfg.Output.Dir = flags.output
	}
	if changed("workers") {
		cfg.Performance.Workers = flags.workers
	}
	if changed("queue-size") {
		cfg.Performance.QueueSize = flags.queueSize
	}
	if changed("log-level") {
		cfg.Observability.LogLevel = flags.logLevel
	}
	if changed("metrics-addr") {
		cfg.Observability.EnableMetrics = flags.metricsAddr != ""
		cfg.Observability.MetricsAddr = flags.metricsAddr
	}
	if changed("trace") {
		cfg.Observability.EnableTracing = flags.trace
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runMaterialize(ctx context.Context, out io.Writer, cfg *config.Config, flags *runFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := logger.Init(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: cfg.Observability.LogEncoding,
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.With(zap.String("component", "gpkgsink-cli"))

	schema, err := entity.LoadSchema(flags.schema)
	if err != nil {
		return fmt.Errorf("schema error: %w", err)
	}
	input, err := os.Open(flags.input)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer input.Close()

	if cfg.Observability.EnableTracing {
		shutdown, err := observability.InitTracing(observability.TracingConfig{
			ServiceName:    cfg.Name,
			ServiceVersion: version,
			SamplingRate:   1,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				log.Warn("failed to flush traces", zap.Error(err))
			}
		}()
	}

	if cfg.Observability.EnableMetrics {
		srv := serveMetrics(cfg.Observability.MetricsAddr, log)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	var ctl feedback.Controller
	canc := ctl.Begin(ctx)
	defer ctl.Done(canc)
	stopSignals := cancelOnSignal(&ctl, log)
	defer stopSignals()

	s, err := sink.New(cfg, log)
	if err != nil {
		return err
	}

	upstream := make(chan *entity.Parcel, cfg.Performance.QueueSize)
	streamCtx, stopStream := context.WithCancel(canc.Context())
	defer stopStream()
	streamErr := make(chan error, 1)
	go func() {
		defer close(upstream)
		n, err := entity.Stream(streamCtx, input, upstream)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("input decoding failed, canceling run", zap.Int("decoded", n), zap.Error(err))
			ctl.CancelCurrent()
			streamErr <- err
			return
		}
		log.Debug("input decoded", zap.Int("entities", n))
		streamErr <- nil
	}()

	log.Info("starting run",
		zap.String("input", flags.input),
		zap.String("output", cfg.Output.Dir),
		zap.Int("workers", cfg.Performance.GetWorkers()))

	report, runErr := s.Run(feedback.New(log, canc), upstream, schema)
	stopStream()
	decodeErr := <-streamErr

	if decodeErr != nil {
		return fmt.Errorf("input error: %w", decodeErr)
	}
	if runErr != nil {
		return runErr
	}

	logger.WithContext(logger.WithRunID(ctx, report.RunID)).Info("run finished",
		zap.String("status", string(report.Status)),
		zap.Duration("duration", report.Duration))
	if err := writeReport(out, report); err != nil {
		return err
	}
	if report.Status == sink.StatusCanceled {
		return errCanceled
	}
	return nil
}

// cancelOnSignal cancels the current run on SIGINT or SIGTERM until the
// returned stop function is called.
func cancelOnSignal(ctl *feedback.Controller, log *zap.Logger) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			log.Warn("signal received, canceling run", zap.String("signal", sig.String()))
			ctl.CancelCurrent()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func serveMetrics(addr string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return srv
}

// reportView is the JSON summary printed after a run.
type reportView struct {
	Status          string   `json:"status"`
	RunID           string   `json:"run_id"`
	Features        int64    `json:"features"`
	Attributes      int64    `json:"attributes"`
	EmptyGeometry   int64    `json:"empty_geometry"`
	Objects         int64    `json:"objects"`
	Skipped         int64    `json:"skipped"`
	MergeMisses     int      `json:"merge_misses"`
	Duplicates      int      `json:"duplicates"`
	Tables          []string `json:"tables"`
	ColumnsAdded    int      `json:"columns_added"`
	FeaturesWritten int      `json:"features_written"`
	Warnings        int64    `json:"warnings"`
	Archive         string   `json:"archive,omitempty"`
	Published       string   `json:"published,omitempty"`
	DurationMs      int64    `json:"duration_ms"`
}

func writeReport(w io.Writer, r *sink.Report) error {
	data, err := json.MarshalIndent(reportView{
		Status:          string(r.Status),
		RunID:           r.RunID,
		Features:        r.Features,
		Attributes:      r.Attributes,
		EmptyGeometry:   r.EmptyGeometry,
		Objects:         r.Objects,
		Skipped:         r.Skipped,
		MergeMisses:     r.MergeMisses,
		Duplicates:      r.Duplicates,
		Tables:          r.TablesCreated,
		ColumnsAdded:    r.ColumnsAdded,
		FeaturesWritten: r.FeaturesWritten,
		Warnings:        r.Warnings,
		Archive:         r.ArchivePath,
		Published:       r.PublishedURL,
		DurationMs:      r.Duration.Milliseconds(),
	}, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
