package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/runningwild/diskmark/pkg/fio"
)

var fioCmd = &cobra.Command{
	Use:   "fio-job",
	Short: "Print an fio job file equivalent to a benchmark configuration",
	Args:  cobra.NoArgs,
	RunE:  runFioJob,
}

var (
	fioSettings settingsFlags
	fioLocation string
	fioOutput   string
)

func init() {
	fioSettings.register(fioCmd.Flags())
	fioCmd.Flags().StringVarP(&fioLocation, "location", "l", ".", "Directory to benchmark")
	fioCmd.Flags().StringVarP(&fioOutput, "output", "o", "", "Write the job file here instead of stdout")
	rootCmd.AddCommand(fioCmd)
}

func runFioJob(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("location") || configFile == "" {
		cfg.Location = fioLocation
	}
	fioSettings.apply(cmd.Flags(), cfg)
	params, err := cfg.Params(1)
	if err != nil {
		return err
	}
	job := fio.GenerateJob(params)
	if fioOutput == "" {
		_, err := fmt.Fprint(os.Stdout, job)
		return err
	}
	if err := os.WriteFile(fioOutput, []byte(job), 0o644); err != nil {
		return fmt.Errorf("write fio job: %w", err)
	}
	fmt.Fprintf(os.Stderr, "fio job written to %s\n", fioOutput)
	return nil
}
