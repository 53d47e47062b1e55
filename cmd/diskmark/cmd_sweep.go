package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/runningwild/diskmark/pkg/engine"
	"github.com/runningwild/diskmark/pkg/report"
	"github.com/runningwild/diskmark/pkg/sweep"
	"github.com/runningwild/diskmark/pkg/sysinfo"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Repeat a benchmark over thread counts or block sizes and find the knee",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

var (
	sweepSettings settingsFlags
	sweepLocation string
	sweepVar      string
	sweepMetric   string
	sweepValues   []int
	sweepMin      int
	sweepMax      int
	sweepStep     int
)

func init() {
	sweepSettings.register(sweepCmd.Flags())
	sweepCmd.Flags().StringVarP(&sweepLocation, "location", "l", ".", "Directory to benchmark")
	sweepCmd.Flags().StringVar(&sweepVar, "var", sweep.Threads, "Setting to sweep: threads or block_size_kb")
	sweepCmd.Flags().StringVar(&sweepMetric, "metric", sweep.MetricIOPS, "Metric to maximise: iops or bw")
	sweepCmd.Flags().IntSliceVar(&sweepValues, "values", nil, "Explicit values to sweep (overrides --min/--max/--step)")
	sweepCmd.Flags().IntVar(&sweepMin, "min", 1, "Minimum value")
	sweepCmd.Flags().IntVar(&sweepMax, "max", 16, "Maximum value")
	sweepCmd.Flags().IntVar(&sweepStep, "step", 1, "Step between values")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("location") || configFile == "" {
		cfg.Location = sweepLocation
	}
	sweepSettings.apply(cmd.Flags(), cfg)
	settings, err := cfg.Effective()
	if err != nil {
		return err
	}
	values := sweepValues
	if len(values) == 0 {
		values = sweep.Steps(sweepMin, sweepMax, sweepStep)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	seq, err := store.Reserve(ctx, settings.Samples*len(values))
	if err != nil {
		return err
	}
	params, err := cfg.Params(seq)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(params.Dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	env := sysinfo.Collect(ctx, cfg.Location, slog.Default())
	s, err := sweep.New(params, sweepVar, values,
		sweep.WithMetric(sweepMetric),
		sweep.WithLogger(slog.Default()),
		sweep.WithEngineOptions(engine.WithLogger(slog.Default())),
		sweep.OnStep(func(st sweep.Step) {
			fmt.Fprintf(os.Stderr, "%s=%d -> %s %.2f\n", sweepVar, st.Value, sweepMetric, st.Metric)
			if cfg.SaveEnabled() {
				if err := store.Save(context.WithoutCancel(ctx), report.NewDocument(st.Run, &env)); err != nil {
					slog.Warn("failed to record sweep step", "value", st.Value, "error", err)
				}
			}
		}),
	)
	if err != nil {
		return err
	}
	res, err := s.Run(ctx)
	if err != nil {
		return err
	}
	return renderSweep(os.Stdout, res)
}

func renderSweep(w io.Writer, res *sweep.Result) error {
	if len(res.Steps) == 0 {
		fmt.Fprintln(w, "No sweep steps completed.")
		return nil
	}
	table := tablewriter.NewWriter(w)
	table.Header(res.Variable, "MB/s", "IOPS", "Lat ms", "")
	for _, st := range res.Steps {
		var bw, lat string
		var iops int64
		if op := st.Run.Operation(res.Direction); op != nil {
			bw = strconv.FormatFloat(op.BwAvg, 'f', 2, 64)
			lat = strconv.FormatFloat(op.LatencyAvgMs, 'f', 3, 64)
			iops = op.IOPS
		}
		mark := ""
		if st.Value == res.Knee {
			mark = "knee"
		}
		if err := table.Append(strconv.Itoa(st.Value), bw, strconv.FormatInt(iops, 10), lat, mark); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	if res.Cancelled {
		fmt.Fprintln(w, "sweep cancelled")
	}
	fmt.Fprintf(w, "Recommended %s: %d (%s, %s)\n", res.Variable, res.Knee, engine.DirectionName(res.Direction), res.Metric)
	return nil
}
