// Package csvfile reads and writes the flat, header-led CSV files the stores persist to.
package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrMissingColumn is returned by Table.Column when a required header is absent.
var ErrMissingColumn = errors.New("csvfile: missing column")

// Table is a parsed CSV file keyed by header name.
type Table struct {
	Header []string
	Rows   [][]string
	index  map[string]int
}

// Read parses the file at path. A missing file is reported as os.ErrNotExist;
// an empty file yields a Table with no header.
func Read(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return &Table{index: map[string]int{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csvfile: read header %s: %w", path, err)
	}
	t := &Table{Header: header, index: make(map[string]int, len(header))}
	for i, name := range header {
		t.index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csvfile: read %s: %w", path, err)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// Has reports whether the header contains name.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns the index of name in the header.
func (t *Table) Column(name string) (int, error) {
	i, ok := t.index[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingColumn, name)
	}
	return i, nil
}

// Field returns row's value for name, or "" when the column or cell is absent.
func (t *Table) Field(row []string, name string) string {
	i, ok := t.index[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// WriteAtomic replaces the file at path with header and rows by writing a
// sibling temp file and renaming it into place.
func WriteAtomic(path string, header []string, rows [][]string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("csvfile: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("csvfile: write header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("csvfile: write rows: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("csvfile: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("csvfile: replace %s: %w", path, err)
	}
	return nil
}

// Append adds row to the file at path, creating it with header first when it
// does not exist or is empty.
func Append(path string, header, row []string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("csvfile: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("csvfile: stat %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			_ = f.Close()
			return fmt.Errorf("csvfile: write header: %w", err)
		}
	}
	if err := w.Write(row); err != nil {
		_ = f.Close()
		return fmt.Errorf("csvfile: write row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("csvfile: flush: %w", err)
	}
	return f.Close()
}

// Probe reports whether the directory holding path accepts new files.
func Probe(path string) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
