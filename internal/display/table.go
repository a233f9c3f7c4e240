package display

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// columnGap separates adjacent columns
const columnGap = 2

// minColumnWidth is the floor a column shrinks to under a width cap
const minColumnWidth = 5

// Table renders rows as aligned plain-text columns with a dashed rule under
// the header. Output never exceeds the terminal width; overlong cells are
// truncated with an ellipsis.
type Table struct {
	headers     []string
	rows        [][]string
	rightAlign  map[int]bool
	maxWidth    int
	colorSystem ColorSystem
	theme       ColorTheme
}

// NewTable creates a table with the given header row
func NewTable(colorSystem ColorSystem, theme ColorTheme, headers ...string) *Table {
	return &Table{
		headers:     headers,
		rightAlign:  make(map[int]bool),
		maxWidth:    terminalWidth(),
		colorSystem: colorSystem,
		theme:       theme,
	}
}

// AddRow appends one data row
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// AlignRight right-aligns the given columns, for numeric data
func (t *Table) AlignRight(columns ...int) {
	for _, col := range columns {
		t.rightAlign[col] = true
	}
}

// SetMaxWidth caps the rendered width. Zero restores the terminal width.
func (t *Table) SetMaxWidth(width int) {
	if width <= 0 {
		width = terminalWidth()
	}
	t.maxWidth = width
}

// Render returns the formatted table, empty when there are no rows
func (t *Table) Render() string {
	if len(t.rows) == 0 {
		return ""
	}

	widths := t.columnWidths()

	var out strings.Builder
	out.WriteString(t.renderRow(t.headers, widths, true))
	out.WriteString("\n")

	rule := make([]string, len(widths))
	for i, width := range widths {
		rule[i] = strings.Repeat("-", width)
	}
	out.WriteString(t.renderRow(rule, widths, false))
	out.WriteString("\n")

	for _, row := range t.rows {
		out.WriteString(t.renderRow(row, widths, false))
		out.WriteString("\n")
	}
	return out.String()
}

// columnWidths sizes each column by its widest cell, then shrinks the
// widest columns first while the total exceeds the width cap.
func (t *Table) columnWidths() []int {
	numCols := len(t.headers)
	for _, row := range t.rows {
		if len(row) > numCols {
			numCols = len(row)
		}
	}

	widths := make([]int, numCols)
	for i, header := range t.headers {
		widths[i] = utf8.RuneCountInString(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := utf8.RuneCountInString(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	if t.maxWidth <= 0 {
		return widths
	}
	for total := totalWidth(widths); total > t.maxWidth; total = totalWidth(widths) {
		widest := 0
		for i := range widths {
			if widths[i] > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= minColumnWidth {
			break
		}
		widths[widest]--
	}
	return widths
}

func totalWidth(widths []int) int {
	total := columnGap * (len(widths) - 1)
	for _, w := range widths {
		total += w
	}
	return total
}

func (t *Table) renderRow(cells []string, widths []int, isHeader bool) string {
	var out strings.Builder
	for i, width := range widths {
		var cell string
		if i < len(cells) {
			cell = cells[i]
		}
		cell = truncate(cell, width)

		padding := width - utf8.RuneCountInString(cell)
		if isHeader && t.colorSystem != nil {
			cell = t.colorSystem.Colorize(cell, t.theme.Header)
		}

		if t.rightAlign[i] {
			out.WriteString(strings.Repeat(" ", padding))
			out.WriteString(cell)
		} else {
			out.WriteString(cell)
			if i < len(widths)-1 {
				out.WriteString(strings.Repeat(" ", padding))
			}
		}
		if i < len(widths)-1 {
			out.WriteString(strings.Repeat(" ", columnGap))
		}
	}
	return strings.TrimRight(out.String(), " ")
}

// truncate shortens a cell to fit its column, marking the cut with "..."
func truncate(cell string, width int) string {
	if utf8.RuneCountInString(cell) <= width {
		return cell
	}
	runes := []rune(cell)
	if width > 3 {
		return string(runes[:width-3]) + "..."
	}
	return string(runes[:width])
}

// terminalWidth returns the current terminal width
func terminalWidth() int {
	width, _, err := term.GetSize(0)
	if err != nil || width <= 0 {
		return 80
	}
	return width
}
