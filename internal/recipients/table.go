// Package recipients holds the working recipient table produced from an
// uploaded source file, and the address validation applied to it before any
// row is promoted into a campaign.
package recipients

import "strings"

// Row is one line of the working table. Fields keeps every source column by
// header name; the remaining fields are populated by Clean.
type Row struct {
	Fields map[string]string

	EmailOriginal   string
	EmailClean      string
	Valid           bool
	ValidationError string
	Disposable      bool
}

// Get returns the trimmed value of column, treating null-like values as empty.
func (r Row) Get(column string) string {
	value, ok := r.Fields[column]
	if !ok {
		return ""
	}
	value = strings.TrimSpace(value)
	if isNullLike(value) {
		return ""
	}
	return value
}

// Has reports whether the row carries column at all.
func (r Row) Has(column string) bool {
	_, ok := r.Fields[column]
	return ok
}

// Email is the address to deliver to: the cleaned value once validated,
// otherwise whatever the email column held.
func (r Row) Email() string {
	if r.EmailClean != "" {
		return r.EmailClean
	}
	return r.Get("email")
}

func (r Row) Name() string    { return r.Get("name") }
func (r Row) Company() string { return r.Get("company") }

func (r Row) clone() Row {
	fields := make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	r.Fields = fields
	return r
}

// Table is an ordered set of rows with named columns.
type Table struct {
	Columns   []string
	Rows      []Row
	validated bool
}

// NewTable builds a table from a header and raw records. Short records are
// padded with empty values; extra cells are dropped.
func NewTable(columns []string, records [][]string) Table {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = strings.TrimSpace(c)
	}
	rows := make([]Row, 0, len(records))
	for _, record := range records {
		fields := make(map[string]string, len(cols))
		for i, col := range cols {
			if i < len(record) {
				fields[col] = record[i]
			} else {
				fields[col] = ""
			}
		}
		rows = append(rows, Row{Fields: fields})
	}
	return Table{Columns: cols, Rows: rows}
}

// FromEmails builds a single-column table named "email".
func FromEmails(emails []string) Table {
	records := make([][]string, 0, len(emails))
	for _, e := range emails {
		records = append(records, []string{e})
	}
	return NewTable([]string{"email"}, records)
}

func (t Table) Len() int { return len(t.Rows) }

func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Validated reports whether the table went through Clean.
func (t Table) Validated() bool { return t.validated }

// Head returns the first n rows.
func (t Table) Head(n int) Table {
	if n < 0 {
		n = 0
	}
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	out := t
	out.Rows = append([]Row(nil), t.Rows[:n]...)
	return out
}

// ColumnEmpty reports whether every value of column is empty or null-like.
func (t Table) ColumnEmpty(column string) bool {
	for _, row := range t.Rows {
		if row.Get(column) != "" {
			return false
		}
	}
	return true
}

func isNullLike(value string) bool {
	switch strings.ToLower(value) {
	case "", "nan", "none", "null", "<na>":
		return true
	}
	return false
}
