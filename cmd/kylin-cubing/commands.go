package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/qhzhou/Kylin/internal/pipeline"
	"github.com/qhzhou/Kylin/pkg/config"
	"github.com/qhzhou/Kylin/pkg/cube"
	"github.com/qhzhou/Kylin/pkg/logger"
	"github.com/qhzhou/Kylin/pkg/observability"
)

// envPrefix prefixes the environment variables that override flags, such
// as KYLIN_WORKERS or KYLIN_MEMORY_BUDGET_MB.
const envPrefix = "KYLIN"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "kylin-cubing",
		Short: "Kylin in-memory cube builder",
		Long: `kylin-cubing computes every cuboid of a cube from a flat table CSV
in one pass, rolling each cuboid up from its smallest parent in memory.`,
		SilenceUsage: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "kylin-cubing v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(newLatticeCommand())
	root.AddCommand(newBuildCommand())
	return root
}

func newLatticeCommand() *cobra.Command {
	var descPath string
	cmd := &cobra.Command{
		Use:   "lattice",
		Short: "Print the cuboids of a cube and the parent each is built from",
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := cube.LoadDesc(descPath)
			if err != nil {
				return err
			}
			s := cube.NewScheduler(desc)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cube %s: %d cuboids\n", desc.Name, s.CuboidCount())
			for _, id := range s.AllCuboidIDs() {
				cols := strings.Join(desc.ColumnNames(id)[:len(desc.CuboidDimensions(id))], ",")
				if parent, ok := s.Parent(id); ok {
					fmt.Fprintf(out, "%d\t%s\tparent=%d\n", id, cols, parent)
				} else {
					fmt.Fprintf(out, "%d\t%s\tbase\n", id, cols)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&descPath, "cube", "", "Path to the cube descriptor YAML (required)")
	_ = cmd.MarkFlagRequired("cube")
	return cmd
}

func newBuildCommand() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build every cuboid of a cube from a flat table",
		Long: `Build every cuboid of a cube from a flat table CSV and write them out.
Flags override the job file; KYLIN_* environment variables override both.

Example:
  kylin-cubing build --cube sales.yaml --input flat.csv --output out --format arrow`,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := loadJob(v)
			if err != nil {
				return err
			}
			return runBuild(cmd, job)
		},
	}

	def := config.NewJobConfig("cube")
	f := cmd.Flags()
	f.String("config", "", "Path to a job YAML file (optional)")
	f.String("cube", "", "Path to the cube descriptor YAML")
	f.String("input", "", "Path to the flat table CSV")
	f.String("delimiter", def.Input.Delimiter, "Flat table field delimiter")
	f.Bool("header", def.Input.HasHeader, "Flat table has a header line")
	f.String("output", "", "Output directory")
	f.String("format", def.Output.Format, "Output format (csv, json, arrow, avro)")
	f.Int("workers", def.Build.Workers, "Goroutines computing cuboids")
	f.Int("memory-budget-mb", def.Build.MemoryBudgetMB, "Memory budget in MB (0 measures free memory)")
	f.String("backend", def.Storage.Backend, "Grid table store (memory, disk, hybrid)")
	f.String("spill-dir", def.Storage.SpillDir, "Directory of disk store files")
	f.String("compression", def.Storage.Compression, "Row block compression (none, gzip, snappy, lz4, zstd, s2)")
	f.Bool("eager-flush", def.Build.EagerFlush, "Write cuboids as soon as their children are built")
	f.Duration("timeout", def.Timeout, "Job timeout (0 disables)")
	f.String("log-level", def.Observability.LogLevel, "Log level (debug, info, warn, error)")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	f.Bool("tracing", false, "Export spans to stdout")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(f)
	return cmd
}

// loadJob resolves the job from the optional job file, then flags and
// environment variables.
func loadJob(v *viper.Viper) (*config.JobConfig, error) {
	job := config.NewJobConfig("cube")
	if path := v.GetString("config"); path != "" {
		if err := config.Load(path, job); err != nil {
			return nil, err
		}
	}

	// Only flags given on the command line or in the environment override
	// the job file.
	set := func(key string, apply func()) {
		if v.IsSet(key) {
			apply()
		}
	}
	set("cube", func() { job.CubeDescPath = v.GetString("cube") })
	set("input", func() { job.Input.Path = v.GetString("input") })
	set("delimiter", func() { job.Input.Delimiter = v.GetString("delimiter") })
	set("header", func() { job.Input.HasHeader = v.GetBool("header") })
	set("output", func() { job.Output.Path = v.GetString("output") })
	set("format", func() { job.Output.Format = v.GetString("format") })
	set("workers", func() { job.Build.Workers = v.GetInt("workers") })
	set("memory-budget-mb", func() { job.Build.MemoryBudgetMB = v.GetInt("memory-budget-mb") })
	set("backend", func() { job.Storage.Backend = v.GetString("backend") })
	set("spill-dir", func() { job.Storage.SpillDir = v.GetString("spill-dir") })
	set("compression", func() { job.Storage.Compression = v.GetString("compression") })
	set("eager-flush", func() { job.Build.EagerFlush = v.GetBool("eager-flush") })
	set("timeout", func() { job.Timeout = v.GetDuration("timeout") })
	set("log-level", func() { job.Observability.LogLevel = v.GetString("log-level") })
	set("metrics-addr", func() { job.Observability.MetricsAddr = v.GetString("metrics-addr") })
	set("tracing", func() { job.Observability.EnableTracing = v.GetBool("tracing") })
	return job, nil
}

func runBuild(cmd *cobra.Command, job *config.JobConfig) error {
	if job.CubeDescPath == "" {
		return fmt.Errorf("--cube is required")
	}
	desc, err := cube.LoadDesc(job.CubeDescPath)
	if err != nil {
		return err
	}
	if job.Name == "" || job.Name == "cube" {
		job.Name = desc.Name
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:    job.Observability.LogLevel,
		Encoding: job.Observability.LogEncoding,
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("component", "kylin-cubing"))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if job.Observability.EnableTracing {
		tcfg := observability.DefaultConfig()
		tcfg.ServiceVersion = version
		if err := observability.Initialize(tcfg); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := observability.Shutdown(sctx); err != nil {
				log.Warn("failed to flush spans", zap.Error(err))
			}
		}()
	}

	if job.Observability.EnableMetrics && job.Observability.MetricsAddr != "" {
		srv := serveMetrics(job.Observability.MetricsAddr, log)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	stats, err := pipeline.NewCubingPipeline(job, desc, log).Run(ctx)
	if err != nil {
		return fmt.Errorf("cube build failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "built %d cuboids from %d rows in %s (checksum %016x)\n",
		stats.Cuboids, stats.RowsRead, stats.Duration.Round(time.Millisecond), stats.Checksum)
	return nil
}

// serveMetrics exposes the default Prometheus registry on /metrics.
func serveMetrics(addr string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return srv
}
