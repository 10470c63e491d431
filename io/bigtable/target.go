package bigtableio

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"cloud.google.com/go/bigtable"
	"github.com/go-sif/sluice"
	"github.com/go-sif/sluice/ptypes"
	"github.com/hashicorp/go-multierror"
)

// DefaultBatchSize is the number of rows a Writer buffers before applying them
const DefaultBatchSize = 1000

// Cell is a value to store in one column of a row
type Cell struct {
	Family    string
	Column    string
	Timestamp bigtable.Timestamp // Defaults to the time at which the cell is written
	Value     []byte
}

// Put is a set of cells to store in one row
type Put struct {
	Row   string
	Cells []Cell
}

// NewPut returns an empty Put for a row
func NewPut(row string) *Put {
	return &Put{Row: row}
}

// Add appends a cell to this Put
func (p *Put) Add(family, column string, value []byte) *Put {
	p.Cells = append(p.Cells, Cell{Family: family, Column: column, Value: value})
	return p
}

// PutType describes the elements written by a Target
func PutType() sluice.PType[Put] {
	return ptypes.Gob[Put]()
}

func (p Put) mutation(now bigtable.Timestamp) *bigtable.Mutation {
	m := bigtable.NewMutation()
	for _, c := range p.Cells {
		ts := c.Timestamp
		if ts == 0 {
			ts = now
		}
		m.Set(c.Family, c.Column, ts, c.Value)
	}
	return m
}

// Target writes Puts to a table. Writing a cell again replaces its newest version,
// so a retried task leaves the table as if it had succeeded the first time.
type Target struct {
	name      string
	table     *bigtable.Table
	batchSize int
}

// NewTarget is a factory for Targets. batchSize defaults to DefaultBatchSize.
func NewTarget(client *bigtable.Client, table string, batchSize int) *Target {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Target{name: fmt.Sprintf("bigtable(%s)", table), table: client.Open(table), batchSize: batchSize}
}

// Name returns the name of this Target
func (t *Target) Name() string {
	return t.name
}

// PType returns the element type of this Target
func (t *Target) PType() sluice.PType[Put] {
	return PutType()
}

// NewWriter opens a Writer for one task attempt
func (t *Target) NewWriter(ctx context.Context, info sluice.TaskInfo) (sluice.Writer[Put], error) {
	return &writer{target: t}, nil
}

type writer struct {
	target    *Target
	rowKeys   []string
	mutations []*bigtable.Mutation
}

func (w *writer) Write(ctx context.Context, p Put) error {
	if p.Row == "" {
		return fmt.Errorf("%s: put has an empty row key", w.target.name)
	}
	if len(p.Cells) == 0 {
		return nil
	}
	w.rowKeys = append(w.rowKeys, p.Row)
	w.mutations = append(w.mutations, p.mutation(bigtable.Now()))
	if len(w.rowKeys) >= w.target.batchSize {
		return w.flush(ctx)
	}
	return nil
}

func (w *writer) flush(ctx context.Context) error {
	if len(w.rowKeys) == 0 {
		return nil
	}
	errs, err := w.target.table.ApplyBulk(ctx, w.rowKeys, w.mutations)
	if err != nil {
		return fmt.Errorf("%s: bulk apply: %w", w.target.name, err)
	}
	var result *multierror.Error
	for i, rowErr := range errs {
		if rowErr != nil {
			result = multierror.Append(result, fmt.Errorf("row %s: %w", w.rowKeys[i], rowErr))
		}
	}
	w.rowKeys = w.rowKeys[:0]
	w.mutations = w.mutations[:0]
	return result.ErrorOrNil()
}

func (w *writer) Close(ctx context.Context) error {
	return w.flush(ctx)
}

// Abort drops any buffered rows. Rows which were already applied remain in the table.
func (w *writer) Abort(ctx context.Context) error {
	w.rowKeys = nil
	w.mutations = nil
	return nil
}

// Value returns the newest value of a column in a row
func Value(row bigtable.Row, family, column string) ([]byte, bool) {
	qualified := family + ":" + column
	for _, item := range row[family] {
		if item.Column == qualified {
			return item.Value, true
		}
	}
	return nil, false
}

// Columns returns the column names present in a family of a row, without the family prefix
func Columns(row bigtable.Row, family string) []string {
	var res []string
	for _, item := range row[family] {
		col := strings.TrimPrefix(item.Column, family+":")
		if len(res) == 0 || res[len(res)-1] != col {
			res = append(res, col)
		}
	}
	return res
}

// Int64ToBytes encodes an int64 as 8 big-endian bytes
func Int64ToBytes(v int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v))
}

// BytesToInt64 decodes 8 big-endian bytes into an int64
func BytesToInt64(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("int64 requires 8 bytes, got %d", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}
