package ingest

// PreviewRows is how many rows a preview table shows.
const PreviewRows = 5

// Table is a header plus string rows, used for input previews.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
	Total   int        `json:"total"`

	// Lines holds the 1-based source line of each row for tables read from
	// text. Blank rows are dropped, so it can skip numbers.
	Lines []int `json:"-"`
}

// Head returns a copy of t holding at most n rows. Total still counts every row.
func (t *Table) Head(n int) *Table {
	if t == nil {
		return nil
	}
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	head := &Table{Columns: t.Columns, Rows: t.Rows[:n], Total: t.Total}
	if len(t.Lines) >= n {
		head.Lines = t.Lines[:n]
	}
	return head
}

// Line returns the source line of row i, or the header-relative position
// when the table was not read from text.
func (t *Table) Line(i int) int {
	if i < len(t.Lines) {
		return t.Lines[i]
	}
	return i + 2
}

// ColumnIndex returns the position of name in the header, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}
