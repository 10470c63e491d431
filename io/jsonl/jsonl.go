// Package jsonl reads JSON Lines files. Lines are parsed with https://github.com/tidwall/gjson,
// so values can be extracted with gjson paths.
package jsonl

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-sif/sluice"
	serrors "github.com/go-sif/sluice/errors"
	"github.com/tidwall/gjson"
)

// Conf configures a JSON Lines Source
type Conf struct {
	HeaderLines   int  // The number of lines to ignore from the beginning of each file. Defaults to 0.
	Comment       rune // Lines beginning with the comment character are ignored. Defaults to no comment character.
	MaxBufferSize int  // Maximum size in bytes of the buffer used to read lines from the file
}

// Line is one JSON value read from a file
type Line struct {
	File   string
	Number int // 1-based, counting header and skipped lines
	Value  gjson.Result
}

// ParseFunc converts a Line into an element
type ParseFunc[T any] func(line Line) (T, error)

// Source reads every file matching a glob, one split per file
type Source[T any] struct {
	glob  string
	ptype sluice.PType[T]
	parse ParseFunc[T]
	conf  Conf
}

// NewSource is a factory for Sources. conf may be nil.
func NewSource[T any](glob string, ptype sluice.PType[T], parse ParseFunc[T], conf *Conf) (*Source[T], error) {
	if _, err := filepath.Match(glob, ""); err != nil {
		return nil, &serrors.InvalidSelectionError{Source: glob, Reason: err.Error()}
	}
	if ptype == nil {
		return nil, &serrors.MissingTypeError{Node: fmt.Sprintf("jsonl(%s)", glob)}
	}
	if parse == nil {
		return nil, &serrors.MissingArgumentError{Op: "jsonl.NewSource", Arg: "parse"}
	}
	s := &Source[T]{glob: glob, ptype: ptype, parse: parse}
	if conf != nil {
		s.conf = *conf
	}
	if s.conf.MaxBufferSize == 0 {
		s.conf.MaxBufferSize = bufio.MaxScanTokenSize
	}
	return s, nil
}

// Name returns the name of this Source
func (s *Source[T]) Name() string {
	return fmt.Sprintf("jsonl(%s)", s.glob)
}

// PType returns the element type of this Source
func (s *Source[T]) PType() sluice.PType[T] {
	return s.ptype
}

// Splits lists the files matching the glob
func (s *Source[T]) Splits(ctx context.Context) ([]sluice.Split, error) {
	matches, err := filepath.Glob(s.glob)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("glob %s produced 0 files", s.glob)
	}
	splits := make([]sluice.Split, len(matches))
	for i, path := range matches {
		splits[i] = fileSplit(path)
	}
	return splits, nil
}

// Read parses every line of one file
func (s *Source[T]) Read(ctx context.Context, split sluice.Split, emit sluice.Emitter[T]) error {
	path, ok := split.(fileSplit)
	if !ok {
		return fmt.Errorf("unexpected split %s", split.String())
	}
	f, err := os.Open(string(path))
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 4096), s.conf.MaxBufferSize)
	number := 0
	for scanner.Scan() {
		number++
		if number <= s.conf.HeaderLines {
			continue
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" || (s.conf.Comment != 0 && strings.HasPrefix(text, string(s.conf.Comment))) {
			continue
		}
		if number%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if !gjson.Valid(text) {
			return fmt.Errorf("%s:%d: invalid JSON", path, number)
		}
		v, err := s.parse(Line{File: string(path), Number: number, Value: gjson.Parse(text)})
		if err != nil {
			return fmt.Errorf("%s:%d: %w", path, number, err)
		}
		emit.Emit(v)
		if sluice.Stopped(emit) {
			return nil
		}
	}
	return scanner.Err()
}

// Field produces a ParseFunc which extracts the string at a gjson path, failing if it is missing
func Field(path string) ParseFunc[string] {
	return func(line Line) (string, error) {
		v := line.Value.Get(path)
		if !v.Exists() {
			return "", fmt.Errorf("missing field %s", path)
		}
		return v.String(), nil
	}
}

type fileSplit string

func (s fileSplit) String() string {
	return string(s)
}
