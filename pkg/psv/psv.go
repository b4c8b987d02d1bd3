// Package psv decodes the pipe-separated-value tables served by the
// patch server: a header line of typed columns, followed by rows with
// one cell per column. Comment and blank lines are ignored; empty
// cells mean an absent value.
package psv

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fluxxu/keg/internal/kegerrors"
)

// ColumnType is the declared type of a PSV column.
type ColumnType string

// Recognized column types.
const (
	TypeString ColumnType = "STRING"
	TypeHex    ColumnType = "HEX"
	TypeDec    ColumnType = "DEC"
)

// Column is one header field: Name!TYPE:LEN.
type Column struct {
	Name   string
	Type   ColumnType
	Length int // declared byte length; 0 when unspecified
}

// Table is a parsed PSV document: a header and its rows, held in memory
// and exposed either through a restartable iterator (Iter) or as a
// materialized slice (Rows).
type Table struct {
	columns []Column
	rows    [][]string
}

// Row is one decoded PSV record, indexable by column name.
type Row struct {
	cells   []string
	columns []Column
}

// Parse reads a PSV document from r.
func Parse(r io.Reader) (*Table, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var (
		columns []Column
		rows    [][]string
		lineNo  int64
	)

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if columns == nil {
			cols, err := parseHeader(line)
			if err != nil {
				return nil, &kegerrors.ParseError{Format: "psv", Offset: lineNo, Reason: err.Error()}
			}
			columns = cols
			continue
		}

		cells := strings.Split(line, "|")
		if len(cells) != len(columns) {
			return nil, &kegerrors.ParseError{
				Format: "psv",
				Offset: lineNo,
				Reason: fmt.Sprintf("row has %d cells, header declares %d", len(cells), len(columns)),
			}
		}
		rows = append(rows, cells)
	}
	if err := scanner.Err(); err != nil {
		return nil, &kegerrors.ParseError{Format: "psv", Offset: lineNo, Reason: err.Error()}
	}
	if columns == nil {
		return nil, &kegerrors.ParseError{Format: "psv", Offset: 0, Reason: "missing header line"}
	}

	return &Table{columns: columns, rows: rows}, nil
}

func parseHeader(line string) ([]Column, error) {
	fields := strings.Split(line, "|")
	columns := make([]Column, 0, len(fields))
	for _, f := range fields {
		nameAndRest := strings.SplitN(f, "!", 2)
		if len(nameAndRest) != 2 {
			return nil, fmt.Errorf("malformed column header %q", f)
		}
		typeAndLen := strings.SplitN(nameAndRest[1], ":", 2)
		col := Column{Name: nameAndRest[0], Type: ColumnType(typeAndLen[0])}
		if len(typeAndLen) == 2 {
			var length int
			if _, err := fmt.Sscanf(typeAndLen[1], "%d", &length); err != nil {
				return nil, fmt.Errorf("malformed column length in %q: %w", f, err)
			}
			col.Length = length
		}
		columns = append(columns, col)
	}
	return columns, nil
}

// Header returns the table's column declarations.
func (t *Table) Header() []Column { return t.columns }

// Len returns the number of decoded rows.
func (t *Table) Len() int { return len(t.rows) }

// Rows materializes every row. Prefer Iter for large tables.
func (t *Table) Rows() []Row {
	out := make([]Row, len(t.rows))
	for i, cells := range t.rows {
		out[i] = Row{cells: cells, columns: t.columns}
	}
	return out
}

// Iter returns a restartable row sequence: call Next until it reports
// false. Each call returns a fresh iterator with its own position over
// the same Table, so independent readers do not share a cursor.
func (t *Table) Iter() *RowIter {
	return &RowIter{table: t}
}

// RowIter is a restartable, single-pass sequence over a Table's rows.
type RowIter struct {
	table *Table
	idx   int
}

// Next advances the iterator and reports whether a row was produced.
func (it *RowIter) Next() (Row, bool) {
	if it.idx >= len(it.table.rows) {
		return Row{}, false
	}
	row := Row{cells: it.table.rows[it.idx], columns: it.table.columns}
	it.idx++
	return row, true
}

// Get returns the cell for a named column, and whether it was non-empty.
func (r Row) Get(name string) (string, bool) {
	for i, c := range r.columns {
		if c.Name == name {
			return r.cells[i], r.cells[i] != ""
		}
	}
	return "", false
}

// Cells returns the row's raw cell values in column order.
func (r Row) Cells() []string { return r.cells }
