package shuffle

import (
	"encoding/binary"
	"fmt"
	"io"
)

// BlockWriter frames byte fields into a single buffer, each prefixed by its uvarint length
type BlockWriter struct {
	buf     []byte
	records int
}

// Append adds one record made of the given fields
func (w *BlockWriter) Append(fields ...[]byte) {
	for _, f := range fields {
		w.buf = binary.AppendUvarint(w.buf, uint64(len(f)))
		w.buf = append(w.buf, f...)
	}
	w.records++
}

// Len returns the number of records appended so far
func (w *BlockWriter) Len() int {
	return w.records
}

// Bytes returns the framed contents of this block
func (w *BlockWriter) Bytes() []byte {
	return w.buf
}

// BlockReader reads back the fields written by a BlockWriter
type BlockReader struct {
	data []byte
}

// NewBlockReader creates a BlockReader over data
func NewBlockReader(data []byte) *BlockReader {
	return &BlockReader{data: data}
}

// Next returns the next field, or io.EOF once the block is exhausted
func (r *BlockReader) Next() ([]byte, error) {
	if len(r.data) == 0 {
		return nil, io.EOF
	}
	size, n := binary.Uvarint(r.data)
	if n <= 0 {
		return nil, fmt.Errorf("corrupt block: bad field length")
	}
	r.data = r.data[n:]
	if uint64(len(r.data)) < size {
		return nil, fmt.Errorf("corrupt block: field of %d bytes, %d remaining", size, len(r.data))
	}
	field := r.data[:size:size]
	r.data = r.data[size:]
	return field, nil
}
