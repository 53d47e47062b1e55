package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/runningwild/diskmark/pkg/config"
	"github.com/runningwild/diskmark/pkg/history"
	"github.com/runningwild/diskmark/pkg/report"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and manage recorded runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *history.Store) error {
			runs, err := s.List(cmd.Context(), historyLimit)
			if err != nil {
				return err
			}
			next, err := s.NextSequence(cmd.Context())
			if err != nil {
				return err
			}
			return renderHistory(os.Stdout, runs, next)
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one run; the id may be a unique prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *history.Store) error {
			doc, err := s.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if showJSON {
				return report.Export(os.Stdout, doc)
			}
			return report.Render(os.Stdout, doc.Run, doc.Environment)
		})
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *history.Store) error {
			if err := s.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		})
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every recorded run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *history.Store) error {
			n, err := s.DeleteAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d runs\n", n)
			return nil
		})
	},
}

var historyResetCmd = &cobra.Command{
	Use:   "reset-sequence",
	Short: "Number the next run's samples from 1 again",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *history.Store) error {
			return s.ResetSequence(cmd.Context())
		})
	},
}

var (
	historyLimit int
	showJSON     bool
)

func init() {
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum runs to list (0 = all)")
	historyShowCmd.Flags().BoolVar(&showJSON, "json", false, "Print the stored JSON document")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd, historyClearCmd, historyResetCmd)
	rootCmd.AddCommand(historyCmd)
}

func withStore(fn func(*history.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func bandwidth(v float64) string {
	if v == 0 {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// renderHistory lists runs followed by the number the next run's first
// sample gets.
func renderHistory(w io.Writer, runs []history.Summary, next uint32) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No recorded runs.")
		fmt.Fprintf(w, "Next sample: %d\n", next)
		return nil
	}
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Start", "Location", "Workload", "Order", "Engine", "Blocks", "Samples", "Threads", "Write MB/s", "Read MB/s")
	for _, r := range runs {
		start := r.Start.Local().Format("2006-01-02 15:04:05")
		if r.Cancelled {
			start += " (cancelled)"
		}
		if err := table.Append(
			shortID(r.ID),
			start,
			r.Location,
			r.Workload,
			r.Order,
			r.Engine,
			fmt.Sprintf("%d (%s)", r.NumBlocks, report.BlockSize(r.BlockSize)),
			strconv.Itoa(r.Samples),
			strconv.Itoa(r.Workers),
			bandwidth(r.WriteBw),
			bandwidth(r.ReadBw),
		); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(w, "Next sample: %d\n", next)
	return nil
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List the built-in benchmark profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return renderProfiles(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(profilesCmd)
}

func renderProfiles(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Name", "Title", "Workload", "Order", "Threads", "Samples", "Blocks", "Block KB", "Engine", "Direct", "Sync")
	for _, p := range config.Profiles {
		s := p.Settings
		if err := table.Append(
			p.Name,
			p.Title,
			s.Workload,
			s.Order,
			strconv.Itoa(s.Threads),
			strconv.Itoa(s.Samples),
			strconv.Itoa(s.Blocks),
			strconv.Itoa(s.BlockSizeKB),
			s.Engine,
			strconv.FormatBool(config.IsSet(s.Direct)),
			strconv.FormatBool(config.IsSet(s.WriteSync)),
		); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	return nil
}
