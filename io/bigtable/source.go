// Package bigtableio reads and writes Bigtable tables. A table is read as a PTable of row keys
// to rows, and written from a PCollection of Puts.
package bigtableio

import (
	"context"
	"fmt"
	"sort"

	"cloud.google.com/go/bigtable"
	"github.com/go-sif/sluice"
	"github.com/go-sif/sluice/ptypes"
)

// RowType describes the elements read from a table
func RowType() sluice.KVPType[string, bigtable.Row] {
	return sluice.KVs(ptypes.Strings(), ptypes.Gob[bigtable.Row]())
}

// Source scans a table, one split per sampled region of the table
type Source struct {
	name  string
	table *bigtable.Table
	scan  Scan
	ptype sluice.KVPType[string, bigtable.Row]
}

// NewSource is a factory for Sources. It fails if the Scan is invalid.
func NewSource(client *bigtable.Client, table string, scan Scan) (*Source, error) {
	if err := scan.Validate(table); err != nil {
		return nil, err
	}
	return &Source{
		name:  fmt.Sprintf("bigtable(%s)", table),
		table: client.Open(table),
		scan:  scan,
		ptype: RowType(),
	}, nil
}

// Read adds a scan of a table to p. It panics if the scan is invalid.
func Read(p *sluice.Pipeline, client *bigtable.Client, table string, scan Scan) sluice.PTable[string, bigtable.Row] {
	t, err := TryRead(p, client, table, scan)
	if err != nil {
		panic(err)
	}
	return t
}

// TryRead adds a scan of a table to p
func TryRead(p *sluice.Pipeline, client *bigtable.Client, table string, scan Scan) (sluice.PTable[string, bigtable.Row], error) {
	src, err := NewSource(client, table, scan)
	if err != nil {
		return sluice.PTable[string, bigtable.Row]{}, err
	}
	return sluice.TryReadTable[string, bigtable.Row](p, src)
}

// Name returns the name of this Source
func (s *Source) Name() string {
	return s.name
}

// PType returns the element type of this Source
func (s *Source) PType() sluice.PType[sluice.KV[string, bigtable.Row]] {
	return s.ptype
}

// Splits divides the scanned row range at the table's sampled row keys
func (s *Source) Splits(ctx context.Context) ([]sluice.Split, error) {
	samples, err := s.table.SampleRowKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("sample row keys: %w", err)
	}
	sort.Strings(samples)
	ranges := splitRange(s.scan.StartRow, s.scan.EndRow, samples)
	splits := make([]sluice.Split, len(ranges))
	for i, r := range ranges {
		splits[i] = r
	}
	return splits, nil
}

// Read emits every selected row of one split
func (s *Source) Read(ctx context.Context, split sluice.Split, emit sluice.Emitter[sluice.KV[string, bigtable.Row]]) error {
	r, ok := split.(rowRange)
	if !ok {
		return fmt.Errorf("unexpected split %s", split.String())
	}
	var opts []bigtable.ReadOption
	if f := s.scan.rowFilter(); f != nil {
		opts = append(opts, bigtable.RowFilter(f))
	}
	return s.table.ReadRows(ctx, r.rowSet(), func(row bigtable.Row) bool {
		emit.Emit(sluice.KV[string, bigtable.Row]{Key: row.Key(), Value: row})
		return !sluice.Stopped(emit)
	}, opts...)
}
