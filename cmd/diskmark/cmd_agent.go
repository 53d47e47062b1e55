package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/runningwild/diskmark/pkg/agent"
	"github.com/runningwild/diskmark/pkg/cluster"
	"github.com/runningwild/diskmark/pkg/engine"
	"github.com/runningwild/diskmark/pkg/report"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Serve benchmark runs over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runAgent,
}

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Run one benchmark split across several agents",
	Args:  cobra.NoArgs,
	RunE:  runRemote,
}

var (
	listenAddr    string
	agentLocation string

	remoteSettings settingsFlags
	remoteNodes    []string
)

func init() {
	agentCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "HTTP listen address")
	agentCmd.Flags().StringVarP(&agentLocation, "location", "l", ".", "Directory to benchmark")

	remoteSettings.register(remoteCmd.Flags())
	remoteCmd.Flags().StringSliceVar(&remoteNodes, "nodes", nil, "Comma-separated agent addresses (host:port or URL)")
	_ = remoteCmd.MarkFlagRequired("nodes")

	rootCmd.AddCommand(agentCmd, remoteCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("location") || configFile == "" {
		cfg.Location = agentLocation
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := agent.NewServer(cfg.Location, store, agent.WithLogger(slog.Default()))
	return srv.ListenAndServe(ctx, listenAddr)
}

func runRemote(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	remoteSettings.apply(cmd.Flags(), cfg)
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
	base, err := store.Reserve(ctx, settings.Samples)
	if err != nil {
		return err
	}

	client := cluster.New(remoteNodes, cluster.WithLogger(slog.Default()))
	req := agent.RunRequest{Profile: cfg.Profile, Settings: cfg.Settings}
	results, runErr := client.Run(ctx, req, settings.Samples, base)

	for _, r := range results {
		fmt.Printf("\nNode %s (samples %d-%d)\n", r.Node, r.Range.Start, r.Range.End-1)
		if r.Err != nil {
			fmt.Printf("  failed: %v\n", r.Err)
			continue
		}
		if err := report.Render(os.Stdout, r.Doc.Run, r.Doc.Environment); err != nil {
			return err
		}
	}
	if totals := cluster.Aggregate(results); len(totals) > 0 {
		fmt.Println()
		if err := renderTotals(os.Stdout, totals); err != nil {
			return err
		}
	}
	return runErr
}

func renderTotals(w io.Writer, totals []cluster.Totals) error {
	table := tablewriter.NewWriter(w)
	table.Header("Mode", "Nodes", "Samples", "MB/s", "Lat ms", "IOPS")
	for _, t := range totals {
		if err := table.Append(
			engine.DirectionName(t.Direction),
			strconv.Itoa(t.Nodes),
			strconv.Itoa(t.Samples),
			strconv.FormatFloat(t.BwAvg, 'f', 2, 64),
			strconv.FormatFloat(t.LatencyAvgMs, 'f', 3, 64),
			strconv.FormatInt(t.IOPS, 10),
		); err != nil {
			return err
		}
	}
	return table.Render()
}
