// sluice runs the bundled pipelines against a Bigtable instance. Set BIGTABLE_EMULATOR_HOST
// to use an emulator.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"cloud.google.com/go/bigtable"
	"github.com/go-sif/sluice"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:          "sluice",
		Short:        "Run sluice pipelines against Bigtable",
		SilenceUsage: true,
	}

	project     string
	instance    string
	configPath  string
	logLevel    string
	parallelism int
)

func init() {
	rootCmd.AddCommand(loadCmd, wordcountCmd)
	rootCmd.PersistentFlags().StringVarP(&project, "project", "p", "", "Bigtable project")
	rootCmd.PersistentFlags().StringVarP(&instance, "instance", "i", "", "Bigtable instance")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML file of pipeline options")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level, overriding the options file")
	rootCmd.PersistentFlags().IntVar(&parallelism, "parallelism", 0, "Maximum number of concurrent tasks, overriding the options file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func options() (*sluice.Options, error) {
	opts := &sluice.Options{}
	if configPath != "" {
		var err error
		if opts, err = sluice.LoadOptions(configPath); err != nil {
			return nil, err
		}
	}
	if logLevel != "" {
		opts.LogLevel = logLevel
	}
	if parallelism > 0 {
		opts.Parallelism = parallelism
	}
	return opts, nil
}

func newClient(ctx context.Context) (*bigtable.Client, error) {
	if project == "" || instance == "" {
		return nil, errors.New("--project and --instance are required")
	}
	return bigtable.NewClient(ctx, project, instance)
}

// run executes every pending write of p and prints a summary of its stages
func run(cmd *cobra.Command, p *sluice.Pipeline) error {
	res, err := p.Done(cmd.Context())
	if res != nil {
		for _, s := range res.Stages {
			cmd.Printf("stage %d %s: %s (%d tasks, %d read, %d written)\n",
				s.ID, s.Name, s.Status, s.Stats.Tasks, s.Stats.RecordsRead, s.Stats.RecordsWritten)
		}
		for _, w := range res.Warnings {
			cmd.Printf("warning: %v\n", w)
		}
	}
	return err
}
