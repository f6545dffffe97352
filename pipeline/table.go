// Package pipeline drives per-file enrichment: CSV loading, CDN
// filtering, lookup selection, the worker pool, cache merge, consensus
// columns, and atomic output with progress journaling.
package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Column names the pipeline reads from the input partitions.
const (
	ColSrc         = "src"
	ColTarget      = "target"
	ColCountryCode = "countrycode"
	ColASNum       = "asnum"
	ColDomain      = "domain"
)

// Columns added to every output row, in order.
var AddedColumns = []string{
	"rdap_ok", "rdap_net_cc", "rdap_org", "rdap_cidr", "rir", "rdap_error",
	"country_consensus", "consensus_rule",
}

// orgColumns are the source-provided organization-ish text fields that
// feed the CDN org-keyword check.
var orgColumns = []string{"asorg", "org", "isp", "rdap_org"}

// Table is an in-memory CSV partition with header-indexed access. Row
// identity and order are preserved from the input file.
type Table struct {
	Header []string
	Rows   [][]string
	index  map[string]int
}

// ReadTable loads a CSV file tolerantly: short rows are padded, rows
// wider than the header are dropped, and a missing src column falls
// back to target.
func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("pipeline: header %s: %w", path, err)
	}
	t := &Table{
		Header: make([]string, len(header)),
		index:  make(map[string]int, len(header)),
	}
	for i, h := range header {
		h = strings.TrimSpace(h)
		t.Header[i] = h
		t.index[strings.ToLower(h)] = i
	}

	width := len(t.Header)
	for {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("pipeline: read %s: %w", path, err)
		}
		if len(rec) > width {
			continue
		}
		row := make([]string, width)
		copy(row, rec)
		t.Rows = append(t.Rows, row)
	}

	if _, ok := t.Col(ColSrc); !ok {
		if ti, ok := t.Col(ColTarget); ok {
			t.AddColumn(ColSrc, nil)
			si, _ := t.Col(ColSrc)
			for _, row := range t.Rows {
				row[si] = row[ti]
			}
		}
	}
	return t, nil
}

// Col returns the index of a column by case-insensitive name.
func (t *Table) Col(name string) (int, bool) {
	i, ok := t.index[strings.ToLower(name)]
	return i, ok
}

// Value returns the trimmed cell at (row, column name), empty when the
// column does not exist.
func (t *Table) Value(row int, name string) string {
	i, ok := t.Col(name)
	if !ok {
		return ""
	}
	return strings.TrimSpace(t.Rows[row][i])
}

// ASN parses the row's autonomous system number. ok is false when the
// column is absent or the cell does not parse.
func (t *Table) ASN(row int) (int64, bool) {
	v := t.Value(row, ColASNum)
	if v == "" {
		return 0, false
	}
	// Pandas-style exports render integers as floats ("13335.0").
	v = strings.TrimSuffix(v, ".0")
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// OrgText concatenates the organization-like fields of a row.
func (t *Table) OrgText(row int) string {
	var parts []string
	for _, name := range orgColumns {
		if v := t.Value(row, name); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

// AddColumn appends a column. values may be nil (all cells empty) or
// must have one value per row.
func (t *Table) AddColumn(name string, values []string) {
	t.Header = append(t.Header, name)
	t.index[strings.ToLower(name)] = len(t.Header) - 1
	for i := range t.Rows {
		v := ""
		if values != nil {
			v = values[i]
		}
		t.Rows[i] = append(t.Rows[i], v)
	}
}

// Filter keeps only the rows for which keep returns true, preserving
// their relative order.
func (t *Table) Filter(keep func(row int) bool) {
	out := t.Rows[:0]
	for i := range t.Rows {
		if keep(i) {
			out = append(out, t.Rows[i])
		}
	}
	t.Rows = out
}

// Write renders the table as CSV.
func (t *Table) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
