package main

import (
	"github.com/go-sif/sluice"
	"github.com/go-sif/sluice/examples/wordcount"
	"github.com/spf13/cobra"
)

var (
	wordcountCmd = &cobra.Command{
		Use:   "wordcount <input-table> <output-table>",
		Short: "Count the words stored in a table",
		RunE:  wordcountFn,
		Args:  cobra.ExactArgs(2),
	}

	explain bool
	wcConf  wordcount.Conf
)

func init() {
	wordcountCmd.Flags().BoolVar(&explain, "explain", false, "Print the planned stages instead of running them")
	wordcountCmd.Flags().StringVar(&wcConf.WordFamily, "word-family", "cf", "Column family holding words")
	wordcountCmd.Flags().StringVar(&wcConf.WordColumn, "word-column", "word", "Column holding words")
	wordcountCmd.Flags().StringVar(&wcConf.CountFamily, "count-family", "cf", "Column family to write counts to")
	wordcountCmd.Flags().StringVar(&wcConf.CountColumn, "count-column", "count", "Column to write counts to")
}

func wordcountFn(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	opts, err := options()
	if err != nil {
		return err
	}
	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	p, err := sluice.NewPipeline("wordcount", opts)
	if err != nil {
		return err
	}
	wcConf.InputTable, wcConf.OutputTable = args[0], args[1]
	if err := wordcount.Build(p, client, wcConf); err != nil {
		return err
	}
	if explain {
		plan, err := p.Explain()
		if err != nil {
			return err
		}
		cmd.Println(plan)
		return nil
	}
	return run(cmd, p)
}
