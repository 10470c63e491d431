package bigtableio

import (
	"fmt"
	"regexp"

	"cloud.google.com/go/bigtable"
	serrors "github.com/go-sif/sluice/errors"
)

// Scan selects the rows and cells read by a Source
type Scan struct {
	StartRow    string          // First row to read, inclusive. Defaults to the start of the table.
	EndRow      string          // Row at which to stop reading, exclusive. Defaults to the end of the table.
	Family      string          // Only read cells from this column family
	Column      string          // Only read cells from this column. Requires Family.
	MaxVersions int             // Only read the newest MaxVersions cells of each column. Defaults to all versions.
	Filter      bigtable.Filter // Applied after the filters implied by the fields above
}

// Validate checks that the Scan describes a readable selection
func (s Scan) Validate(table string) error {
	if s.Column != "" && s.Family == "" {
		return &serrors.InvalidSelectionError{Source: table, Reason: fmt.Sprintf("column %s requires a column family", s.Column)}
	}
	if s.EndRow != "" && s.StartRow >= s.EndRow {
		return &serrors.InvalidSelectionError{Source: table, Reason: fmt.Sprintf("start row %q is not before end row %q", s.StartRow, s.EndRow)}
	}
	if s.MaxVersions < 0 {
		return &serrors.InvalidSelectionError{Source: table, Reason: "max versions must not be negative"}
	}
	return nil
}

// rowFilter combines the Scan's restrictions into a single filter, or returns nil if there are none
func (s Scan) rowFilter() bigtable.Filter {
	var filters []bigtable.Filter
	if s.Family != "" {
		filters = append(filters, bigtable.FamilyFilter(exactly(s.Family)))
	}
	if s.Column != "" {
		filters = append(filters, bigtable.ColumnFilter(exactly(s.Column)))
	}
	if s.MaxVersions > 0 {
		filters = append(filters, bigtable.LatestNFilter(s.MaxVersions))
	}
	if s.Filter != nil {
		filters = append(filters, s.Filter)
	}
	switch len(filters) {
	case 0:
		return nil
	case 1:
		return filters[0]
	default:
		return bigtable.ChainFilters(filters...)
	}
}

func exactly(name string) string {
	return "^" + regexp.QuoteMeta(name) + "$"
}

// rowRange is a split of a Source: rows in [start, end), where an empty end is unbounded
type rowRange struct {
	start, end string
}

func (r rowRange) String() string {
	if r.end == "" {
		return fmt.Sprintf("[%q, end)", r.start)
	}
	return fmt.Sprintf("[%q, %q)", r.start, r.end)
}

func (r rowRange) rowSet() bigtable.RowSet {
	if r.end == "" {
		return bigtable.InfiniteRange(r.start)
	}
	return bigtable.NewRange(r.start, r.end)
}

// splitRange divides [start, end) at every sampled key strictly inside it
func splitRange(start, end string, samples []string) []rowRange {
	var ranges []rowRange
	from := start
	for _, key := range samples {
		if key == "" || key <= from || (end != "" && key >= end) {
			continue
		}
		ranges = append(ranges, rowRange{start: from, end: key})
		from = key
	}
	return append(ranges, rowRange{start: from, end: end})
}
