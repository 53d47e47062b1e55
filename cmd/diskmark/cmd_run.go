package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/runningwild/diskmark/pkg/cachedrop"
	"github.com/runningwild/diskmark/pkg/config"
	"github.com/runningwild/diskmark/pkg/engine"
	"github.com/runningwild/diskmark/pkg/report"
	"github.com/runningwild/diskmark/pkg/sysinfo"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a benchmark against a location",
	RunE:  runBenchmark,
}

var (
	runSettings     settingsFlags
	location        string
	exportPath      string
	noSave          bool
	clean           bool
	writeConfigPath string
	promptDrop      bool
	quiet           bool
)

func init() {
	runSettings.register(runCmd.Flags())
	runCmd.Flags().StringVarP(&location, "location", "l", ".", "Directory to benchmark; test files go in its diskmark-data subdirectory")
	runCmd.Flags().StringVarP(&exportPath, "export", "o", "", "Write the result as JSON to this file")
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "Do not record the run in history")
	runCmd.Flags().BoolVar(&clean, "clean", false, "Remove the test data and reset the sample sequence before running")
	runCmd.Flags().StringVar(&writeConfigPath, "write-config", "", "Save the effective configuration to this YAML file")
	runCmd.Flags().BoolVar(&promptDrop, "prompt-cache-drop", false, "Ask before the read phase when caches cannot be dropped automatically")
	runCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not show a progress bar")

	rootCmd.AddCommand(runCmd)
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("location") || configFile == "" {
		cfg.Location = location
	}
	if flags.Changed("export") {
		cfg.Export = exportPath
	}
	if noSave {
		cfg.Save = config.Bool(false)
	}
	runSettings.apply(flags, cfg)

	settings, err := cfg.Effective()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if clean {
		if err := os.RemoveAll(cfg.DataDir()); err != nil {
			return fmt.Errorf("clean %s: %w", cfg.DataDir(), err)
		}
		if err := store.ResetSequence(ctx); err != nil {
			return err
		}
		slog.Info("removed test data", "dir", cfg.DataDir())
	}

	seq, err := store.Reserve(ctx, settings.Samples)
	if err != nil {
		return err
	}
	params, err := cfg.Params(seq)
	if err != nil {
		return err
	}
	if writeConfigPath != "" {
		if err := config.Write(cfg.Pinned(params), writeConfigPath); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Configuration written to %s\n", writeConfigPath)
	}

	if err := os.MkdirAll(params.Dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	dropOpts := []cachedrop.Option{cachedrop.WithLogger(slog.Default())}
	if promptDrop {
		dropOpts = append(dropOpts, cachedrop.WithPrompt(os.Stdin, os.Stderr))
	}
	dropper := cachedrop.New(params.Dir, dropOpts...)

	bar := newProgressBar(params.TotalUnits())
	listener := engine.Funcs{
		Progress: func(p engine.Progress) {
			if bar != nil {
				_ = bar.Set64(p.Completed)
			}
		},
		CacheDrop: dropper.Drop,
		Warning: func(msg string) {
			slog.Warn(msg)
		},
	}

	runner, err := engine.NewRunner(params, listener, engine.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	run, runErr := runner.Run(ctx)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if run == nil {
		return runErr
	}

	env := sysinfo.Collect(context.WithoutCancel(ctx), cfg.Location, slog.Default())
	doc := report.NewDocument(run, &env)
	if err := report.Render(os.Stdout, run, &env); err != nil {
		return err
	}
	if cfg.Export != "" {
		if err := report.ExportFile(cfg.Export, doc); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Result written to %s\n", cfg.Export)
	}
	if cfg.SaveEnabled() {
		if err := store.Save(context.WithoutCancel(ctx), doc); err != nil {
			return fmt.Errorf("save run: %w", err)
		}
	}
	return runErr
}

func newProgressBar(total int64) *progressbar.ProgressBar {
	if quiet {
		return nil
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription("Benchmarking"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(50),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(engine.UpdateInterval),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
	)
}
