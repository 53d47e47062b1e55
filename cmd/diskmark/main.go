package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/runningwild/diskmark/pkg/config"
	"github.com/runningwild/diskmark/pkg/history"
	"github.com/runningwild/diskmark/pkg/observability"
)

var (
	logLevel     string
	configFile   string
	databasePath string
	traceEnabled bool
	otlpEndpoint string

	shutdownTracer = func(context.Context) error { return nil }
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "diskmark",
	Short:         "diskmark - sequential and random disk benchmark",
	Long:          "Measures read and write bandwidth, latency and IOPS of a storage location.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		shutdown, err := observability.InitTracer(traceEnabled, "diskmark", otlpEndpoint, os.Stderr)
		if err != nil {
			return err
		}
		shutdownTracer = shutdown
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return shutdownTracer(context.Background())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&databasePath, "database", "", "History database path (default ~/.diskmark/history.db)")
	rootCmd.PersistentFlags().BoolVar(&traceEnabled, "trace", false, "Enable OpenTelemetry tracing")
	rootCmd.PersistentFlags().StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP HTTP endpoint (host:port) for traces; if empty spans go to stderr")
}

func setupLogging() {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// loadConfig reads --config when given, otherwise the defaults, and applies
// --database.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}
	if databasePath != "" {
		cfg.Database = databasePath
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*history.Store, error) {
	return history.Open(cfg.Database)
}

// settingsFlags holds the workload flags shared by run and remote.
type settingsFlags struct {
	profile     string
	workload    string
	order       string
	blocks      int
	blockSizeKB int
	samples     int
	threads     int
	engine      string
	direct      bool
	writeSync   bool
	alignment   int
	multiFile   bool
}

func (f *settingsFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.profile, "profile", "p", config.DefaultProfile, "Named profile the settings start from")
	fs.StringVar(&f.workload, "workload", "", "Directions: write, read or read_write")
	fs.StringVar(&f.order, "order", "", "Block order: sequential or random")
	fs.IntVar(&f.blocks, "blocks", 0, "Blocks per sample")
	fs.IntVar(&f.blockSizeKB, "block-size", 0, "Block size in KB")
	fs.IntVarP(&f.samples, "samples", "n", 0, "Samples per direction")
	fs.IntVarP(&f.threads, "threads", "t", 0, "Worker threads per phase")
	fs.StringVar(&f.engine, "engine", "", "I/O engine: buffered, direct or uring")
	fs.BoolVar(&f.direct, "direct", false, "Bypass the page cache")
	fs.BoolVar(&f.writeSync, "write-sync", false, "Synchronous writes")
	fs.IntVar(&f.alignment, "alignment", 0, "Buffer alignment in bytes, negative for natural alignment")
	fs.BoolVar(&f.multiFile, "multi-file", false, "Use one test file per sample")
}

// apply layers only the flags the user set on cfg.
func (f *settingsFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("profile") {
		cfg.Profile = f.profile
	}
	var s config.Settings
	if fs.Changed("workload") {
		s.Workload = f.workload
	}
	if fs.Changed("order") {
		s.Order = f.order
	}
	if fs.Changed("blocks") {
		s.Blocks = f.blocks
	}
	if fs.Changed("block-size") {
		s.BlockSizeKB = f.blockSizeKB
	}
	if fs.Changed("samples") {
		s.Samples = f.samples
	}
	if fs.Changed("threads") {
		s.Threads = f.threads
	}
	if fs.Changed("engine") {
		s.Engine = f.engine
	}
	if fs.Changed("direct") {
		s.Direct = config.Bool(f.direct)
	}
	if fs.Changed("write-sync") {
		s.WriteSync = config.Bool(f.writeSync)
	}
	if fs.Changed("alignment") {
		s.Alignment = f.alignment
	}
	if fs.Changed("multi-file") {
		s.MultiFile = config.Bool(f.multiFile)
	}
	cfg.Apply(s)
}
