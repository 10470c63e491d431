package main

import (
	"fmt"
	"path/filepath"

	"github.com/go-sif/sluice"
	bigtableio "github.com/go-sif/sluice/io/bigtable"
	"github.com/go-sif/sluice/io/jsonl"
	"github.com/spf13/cobra"
)

var (
	loadCmd = &cobra.Command{
		Use:   "load <glob> <table>",
		Short: "Load a field of JSON Lines files into a table, one row per line",
		RunE:  loadFn,
		Args:  cobra.ExactArgs(2),
	}

	loadField   string
	loadFamily  string
	loadColumn  string
	loadHeaders int
	loadComment string
)

func init() {
	loadCmd.Flags().StringVar(&loadField, "field", "word", "gjson path of the value to load")
	loadCmd.Flags().StringVar(&loadFamily, "family", "cf", "Column family to write")
	loadCmd.Flags().StringVar(&loadColumn, "column", "word", "Column to write")
	loadCmd.Flags().IntVar(&loadHeaders, "header-lines", 0, "Lines to skip at the start of each file")
	loadCmd.Flags().StringVar(&loadComment, "comment", "", "Skip lines starting with this character")
}

func loadFn(cmd *cobra.Command, args []string) error {
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

	conf := &jsonl.Conf{HeaderLines: loadHeaders}
	if loadComment != "" {
		conf.Comment = []rune(loadComment)[0]
	}
	field := jsonl.Field(loadField)
	src, err := jsonl.NewSource(args[0], bigtableio.PutType(), func(line jsonl.Line) (bigtableio.Put, error) {
		v, err := field(line)
		if err != nil {
			return bigtableio.Put{}, err
		}
		row := fmt.Sprintf("%s:%08d", filepath.Base(line.File), line.Number)
		return *bigtableio.NewPut(row).Add(loadFamily, loadColumn, []byte(v)), nil
	}, conf)
	if err != nil {
		return err
	}

	p, err := sluice.NewPipeline("load", opts)
	if err != nil {
		return err
	}
	puts, err := sluice.TryRead[bigtableio.Put](p, src)
	if err != nil {
		return err
	}
	if err := sluice.Write[bigtableio.Put](puts, bigtableio.NewTarget(client, args[1], 0)); err != nil {
		return err
	}
	return run(cmd, p)
}
