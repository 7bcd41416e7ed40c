package cliui

import (
	"io"
	"regexp"
	"strings"
	"unicode/utf8"
)

var ansiSeq = regexp.MustCompile(`\x1b\[[0-9;?]*[@-~]`)

// Column describes one table column. A zero MaxWidth leaves it unbounded.
type Column struct {
	Name       string
	MaxWidth   int
	AlignRight bool
}

// Table lays out rows in aligned columns. Cells may carry ANSI colors;
// widths are measured on the visible text.
type Table struct {
	cols []Column
	rows [][]string
}

func NewTable(cols ...Column) *Table {
	return &Table{cols: cols}
}

// Row appends one row. Missing cells render empty, extra cells are ignored.
func (t *Table) Row(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *Table) Len() int { return len(t.rows) }

func (t *Table) Render(w io.Writer) error {
	_, err := io.WriteString(w, t.String())
	return err
}

func (t *Table) String() string {
	if len(t.cols) == 0 {
		return ""
	}
	widths := t.widths()
	var b strings.Builder

	header := make([]string, len(t.cols))
	rule := make([]string, len(t.cols))
	for i, c := range t.cols {
		header[i] = c.Name
		rule[i] = strings.Repeat("-", widths[i])
	}
	t.writeLine(&b, widths, header)
	t.writeLine(&b, widths, rule)
	for _, row := range t.rows {
		t.writeLine(&b, widths, row)
	}
	return b.String()
}

func (t *Table) widths() []int {
	widths := make([]int, len(t.cols))
	for i, c := range t.cols {
		widths[i] = visibleLen(c.Name)
		for _, row := range t.rows {
			if i < len(row) {
				widths[i] = max(widths[i], visibleLen(row[i]))
			}
		}
		if c.MaxWidth > 0 {
			widths[i] = min(widths[i], max(c.MaxWidth, visibleLen(c.Name)))
		}
	}
	return widths
}

func (t *Table) writeLine(b *strings.Builder, widths []int, cells []string) {
	for i, c := range t.cols {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		if visibleLen(cell) > widths[i] {
			cell = Truncate(StripANSI(cell), widths[i])
		}
		pad := strings.Repeat(" ", widths[i]-visibleLen(cell))
		if c.AlignRight {
			b.WriteString(pad + cell)
		} else if i < len(t.cols)-1 {
			b.WriteString(cell + pad)
		} else {
			b.WriteString(cell)
		}
		if i < len(t.cols)-1 {
			b.WriteString("  ")
		}
	}
	b.WriteByte('\n')
}

// StripANSI removes terminal escape sequences.
func StripANSI(s string) string {
	return ansiSeq.ReplaceAllString(s, "")
}

func visibleLen(s string) int {
	return utf8.RuneCountInString(StripANSI(s))
}
