// Package omics harmonizes omics measurements with a metabolic network:
// gene expression to enzyme activity, metabolite rates, and
// reference-relative normalization.
package omics

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/op/go-logging"
	"gonum.org/v1/gonum/mat"
)

var log = logging.MustGetLogger("omics")

// ErrMissing is returned when a row or a column is absent from a table.
var ErrMissing = errors.New("missing id")

// Table is a labelled matrix. Rows and columns are identified by
// unique string ids. Data is nil for tables without rows or columns.
type Table struct {
	Rows []string
	Cols []string
	Data *mat.Dense

	rowIndex map[string]int
	colIndex map[string]int
}

// NewTable creates a table; data is stored row-major and may be nil,
// in which case the table is filled with zeros.
func NewTable(rows, cols []string, data []float64) (*Table, error) {
	t := &Table{
		Rows: append([]string{}, rows...),
		Cols: append([]string{}, cols...),
	}
	if err := t.index(); err != nil {
		return nil, err
	}
	if data != nil && len(data) != len(rows)*len(cols) {
		return nil, fmt.Errorf("table data has %d values, expected %d", len(data), len(rows)*len(cols))
	}
	if len(rows) > 0 && len(cols) > 0 {
		t.Data = mat.NewDense(len(rows), len(cols), data)
	}
	return t, nil
}

// NewFilledTable creates a table with all values set to v.
func NewFilledTable(rows, cols []string, v float64) (*Table, error) {
	t, err := NewTable(rows, cols, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Rows {
		for j := range t.Cols {
			t.Data.Set(i, j, v)
		}
	}
	return t, nil
}

func (t *Table) index() error {
	t.rowIndex = make(map[string]int, len(t.Rows))
	for i, id := range t.Rows {
		if _, ok := t.rowIndex[id]; ok {
			return fmt.Errorf("duplicate row %q", id)
		}
		t.rowIndex[id] = i
	}
	t.colIndex = make(map[string]int, len(t.Cols))
	for j, id := range t.Cols {
		if _, ok := t.colIndex[id]; ok {
			return fmt.Errorf("duplicate column %q", id)
		}
		t.colIndex[id] = j
	}
	return nil
}

// Empty returns true if table has no values.
func (t *Table) Empty() bool {
	return t == nil || t.Data == nil
}

// Dims returns number of rows and columns.
func (t *Table) Dims() (int, int) {
	return len(t.Rows), len(t.Cols)
}

// At returns the value at row i, column j.
func (t *Table) At(i, j int) float64 {
	return t.Data.At(i, j)
}

// Set sets the value at row i, column j.
func (t *Table) Set(i, j int, v float64) {
	t.Data.Set(i, j, v)
}

// RowIndex returns the index of row id.
func (t *Table) RowIndex(id string) (int, bool) {
	i, ok := t.rowIndex[id]
	return i, ok
}

// ColIndex returns the index of column id.
func (t *Table) ColIndex(id string) (int, bool) {
	j, ok := t.colIndex[id]
	return j, ok
}

// Get returns the value by row and column ids.
func (t *Table) Get(row, col string) (float64, bool) {
	i, ok := t.rowIndex[row]
	if !ok {
		return 0, false
	}
	j, ok := t.colIndex[col]
	if !ok {
		return 0, false
	}
	return t.Data.At(i, j), true
}

// Col returns a copy of column j.
func (t *Table) Col(j int) []float64 {
	return mat.Col(nil, j, t.Data)
}

// T returns a transposed copy of the table.
func (t *Table) T() *Table {
	tt := &Table{
		Rows: append([]string{}, t.Cols...),
		Cols: append([]string{}, t.Rows...),
	}
	tt.index()
	if t.Data != nil {
		tt.Data = mat.DenseCopyOf(t.Data.T())
	}
	return tt
}

// Select returns a copy of the table with the given rows and columns
// in the given order. Nil rows or cols select all of them.
func (t *Table) Select(rows, cols []string) (*Table, error) {
	if rows == nil {
		rows = t.Rows
	}
	if cols == nil {
		cols = t.Cols
	}
	ri := make([]int, len(rows))
	for k, id := range rows {
		i, ok := t.rowIndex[id]
		if !ok {
			return nil, fmt.Errorf("%w: row %q", ErrMissing, id)
		}
		ri[k] = i
	}
	ci := make([]int, len(cols))
	for k, id := range cols {
		j, ok := t.colIndex[id]
		if !ok {
			return nil, fmt.Errorf("%w: column %q", ErrMissing, id)
		}
		ci[k] = j
	}
	res, err := NewTable(rows, cols, nil)
	if err != nil {
		return nil, err
	}
	for a, i := range ri {
		for b, j := range ci {
			res.Data.Set(a, b, t.Data.At(i, j))
		}
	}
	return res, nil
}

// DropCol returns a copy of the table without column id.
func (t *Table) DropCol(id string) (*Table, error) {
	if _, ok := t.colIndex[id]; !ok {
		return nil, fmt.Errorf("%w: column %q", ErrMissing, id)
	}
	cols := make([]string, 0, len(t.Cols)-1)
	for _, c := range t.Cols {
		if c != id {
			cols = append(cols, c)
		}
	}
	return t.Select(nil, cols)
}

// sameFloat compares floats treating NaNs as equal.
func sameFloat(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}

// Equal returns true if tables have the same labels and values; NaN
// values are considered equal to each other.
func (t *Table) Equal(o *Table) bool {
	if len(t.Rows) != len(o.Rows) || len(t.Cols) != len(o.Cols) {
		return false
	}
	for i := range t.Rows {
		if t.Rows[i] != o.Rows[i] {
			return false
		}
	}
	for j := range t.Cols {
		if t.Cols[j] != o.Cols[j] {
			return false
		}
	}
	if t.Empty() || o.Empty() {
		return t.Empty() == o.Empty()
	}
	for i := range t.Rows {
		for j := range t.Cols {
			if !sameFloat(t.Data.At(i, j), o.Data.At(i, j)) {
				return false
			}
		}
	}
	return true
}

// parseValue parses a table cell; empty cells are NaN.
func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "na") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// ReadCSV reads a table. The first row holds column ids, the first
// column holds row ids.
func ReadCSV(rd io.Reader) (*Table, error) {
	r := csv.NewReader(rd)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return NewTable(nil, nil, nil)
	}
	cols := records[0][1:]
	rows := make([]string, 0, len(records)-1)
	data := make([]float64, 0, (len(records)-1)*len(cols))
	for k, rec := range records[1:] {
		rows = append(rows, rec[0])
		for _, s := range rec[1:] {
			v, err := parseValue(s)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", k+2, err)
			}
			data = append(data, v)
		}
	}
	if len(rows) == 0 || len(cols) == 0 {
		return NewTable(rows, cols, nil)
	}
	return NewTable(rows, cols, data)
}

// ReadCSVFile reads a table from a file.
func ReadCSVFile(fileName string) (*Table, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}
	log.Infof("Read %s: %d rows, %d columns", fileName, len(t.Rows), len(t.Cols))
	return t, nil
}

// WriteCSV writes a table in the format understood by ReadCSV.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	header := make([]string, 0, len(t.Cols)+1)
	header = append(header, "")
	header = append(header, t.Cols...)
	if err := cw.Write(header); err != nil {
		return err
	}
	rec := make([]string, len(t.Cols)+1)
	for i, id := range t.Rows {
		rec[0] = id
		for j := range t.Cols {
			rec[j+1] = strconv.FormatFloat(t.Data.At(i, j), 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
