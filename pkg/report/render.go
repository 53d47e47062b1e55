package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/runningwild/diskmark/pkg/analyze"
	"github.com/runningwild/diskmark/pkg/engine"
	"github.com/runningwild/diskmark/pkg/sysinfo"
)

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
)

// Mode is the operation direction, suffixed with * when writes were
// synchronous.
func Mode(op *engine.Operation) string {
	m := engine.DirectionName(op.Direction)
	if op.WriteSync != nil && *op.WriteSync {
		m += "*"
	}
	return m
}

// BlockSize formats a byte count as KB or MB.
func BlockSize(n int) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%d MB", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%d KB", n>>10)
	}
	return fmt.Sprintf("%d B", n)
}

func mbps(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

func latency(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.String()
}

// Render writes a summary of run, one table row per operation.
func Render(w io.Writer, run *engine.Run, env *sysinfo.Info) error {
	p := run.Params
	_, _ = bold.Fprintf(w, "Run %s\n", run.ID)
	fmt.Fprintf(w, "  location: %s  engine: %s  direct: %t  files: %s\n",
		p.Dir, engine.EngineName(p.Engine), p.Direct, fileMode(p))
	if env != nil {
		fmt.Fprintf(w, "  drive: %s\n", env.DriveSummary())
	}

	table := tablewriter.NewWriter(w)
	table.Header("Mode", "Order", "Threads", "Blocks", "Samples", "MB/s", "Min", "Max", "Lat ms", "P50", "P99", "IOPS")
	for _, op := range run.Operations {
		if err := table.Append(
			Mode(op),
			engine.OrderName(op.Order),
			strconv.Itoa(op.Workers),
			fmt.Sprintf("%d (%s)", op.NumBlocks, BlockSize(op.BlockSize)),
			fmt.Sprintf("%d/%d", len(op.Samples), op.NumSamples),
			mbps(op.BwAvg),
			mbps(op.BwMin),
			mbps(op.BwMax),
			strconv.FormatFloat(op.LatencyAvgMs, 'f', 3, 64),
			latency(op.LatencyP50),
			latency(op.LatencyP99),
			strconv.FormatInt(op.IOPS, 10),
		); err != nil {
			return fmt.Errorf("render table: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	for _, op := range run.Operations {
		// Concurrent samples finish out of order, so the running MB/s column
		// can drift from the true mean.
		if op.Workers > 1 && mbps(op.BwMean) != mbps(op.BwAvg) {
			fmt.Fprintf(w, "%s mean over all samples: %s MB/s (MB/s column assumes sequence order)\n",
				engine.DirectionName(op.Direction), mbps(op.BwMean))
		}
		if c := analyze.FindCliff(op, analyze.DefaultDropThreshold); c.Detected {
			_, _ = yellow.Fprintf(w, "%s bandwidth dropped %.0f%% after sample %d: %s -> %s MB/s\n",
				engine.DirectionName(op.Direction), c.Drop*100, c.Seq, mbps(c.BurstMBps), mbps(c.SustainedMBps))
		}
	}

	switch {
	case run.Cancelled:
		_, _ = yellow.Fprintf(w, "cancelled after %s\n", run.Duration().Round(time.Millisecond))
	case len(run.Operations) == 0:
		_, _ = red.Fprintln(w, "no operations completed")
	default:
		_, _ = green.Fprintf(w, "completed in %s\n", run.Duration().Round(time.Millisecond))
	}
	return nil
}

func fileMode(p engine.Params) string {
	if p.MultiFile {
		return "per sample"
	}
	return "shared"
}
