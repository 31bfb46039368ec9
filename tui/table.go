package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/imagepress/imagepress"
	"github.com/imagepress/imagepress/download"
	"github.com/imagepress/imagepress/perf"
	"github.com/imagepress/imagepress/tracker"
	"github.com/imagepress/imagepress/watermark"
)

// Column represents a table column
type Column struct {
	Title string
	Width int
}

// Row represents a table row
type Row []string

// Table renders data in a styled table format
type Table struct {
	columns  []Column
	rows     []Row
	styles   *Styles
	selected int
}

// NewTable creates a new table with the given columns
func NewTable(columns []Column, styles *Styles) *Table {
	if styles == nil {
		styles = DefaultStyles()
	}
	return &Table{
		columns:  columns,
		styles:   styles,
		selected: -1,
	}
}

// AddRow adds a row to the table
func (t *Table) AddRow(row Row) {
	t.rows = append(t.rows, row)
}

// SetRows sets all rows at once
func (t *Table) SetRows(rows []Row) {
	t.rows = rows
}

// Select highlights row i; -1 clears the highlight.
func (t *Table) Select(i int) {
	t.selected = i
}

// Render renders the table as a string
func (t *Table) Render() string {
	var b strings.Builder

	headerCells := make([]string, len(t.columns))
	for i, col := range t.columns {
		headerCells[i] = t.styles.TableHeader.Width(col.Width).Render(col.Title)
	}
	b.WriteString(strings.Join(headerCells, " ") + "\n")

	for _, col := range t.columns {
		b.WriteString(t.styles.Muted.Render(strings.Repeat("─", col.Width)) + " ")
	}
	b.WriteString("\n")

	for r, row := range t.rows {
		rowCells := make([]string, len(t.columns))
		for i, col := range t.columns {
			var cell string
			if i < len(row) {
				cell = truncate(row[i], col.Width)
			}
			rowCells[i] = lipgloss.NewStyle().Width(col.Width).Render(cell)
		}
		line := strings.Join(rowCells, " ")
		if r == t.selected {
			line = t.styles.Info.Bold(true).Render(SymbolArrow) + line
		} else if t.selected >= 0 {
			line = " " + line
		}
		b.WriteString(line + "\n")
	}

	return b.String()
}

// truncate shortens s to width visible columns, marking the cut with "..".
// Cells that already carry styling are left alone.
func truncate(s string, width int) string {
	if width <= 2 || lipgloss.Width(s) <= width || strings.Contains(s, "\x1b") {
		return s
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-2]) + ".."
}

// RenderSimple renders a simple table without borders
func RenderSimple(headers []string, rows [][]string, styles *Styles) string {
	if styles == nil {
		styles = DefaultStyles()
	}

	var b strings.Builder

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	for i, h := range headers {
		b.WriteString(styles.TableHeader.Width(widths[i] + 2).Render(h))
	}
	b.WriteString("\n")

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				b.WriteString(styles.TableRow.Width(widths[i] + 2).Render(cell))
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}

var imageColumns = []Column{
	{Title: "FILE", Width: 24},
	{Title: "IMAGE ID", Width: 14},
	{Title: "SHOWING", Width: 12},
	{Title: "VARIANTS", Width: 30},
}

// ImageRows builds one row per record: the file, its id, the variant the
// given state resolves to and every variant it carries.
func ImageRows(records []imagepress.ImageRecord, state imagepress.OperationKind) []Row {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		kind, _ := tracker.Resolve(state, rec)
		var variants []string
		for _, v := range imagepress.AllVariants {
			if rec.Ref(v) != "" {
				variants = append(variants, string(v))
			}
		}
		rows = append(rows, Row{rec.FileName, rec.ImageID, string(kind), strings.Join(variants, ",")})
	}
	return rows
}

// RenderImagesTable renders the collection as seen under state. selected
// marks one row, or none when negative.
func RenderImagesTable(records []imagepress.ImageRecord, state imagepress.OperationKind, selected int, styles *Styles) string {
	if styles == nil {
		styles = DefaultStyles()
	}
	if len(records) == 0 {
		return styles.Muted.Render("  No images uploaded yet") + "\n"
	}
	rows := ImageRows(records, state)
	for _, row := range rows {
		row[2] = styles.Variant(imagepress.VariantKind(row[2]))
	}
	t := NewTable(imageColumns, styles)
	t.SetRows(rows)
	t.Select(selected)
	return t.Render()
}

// RenderExportTable lists where each image of an export went.
func RenderExportTable(report download.Report, styles *Styles) string {
	if styles == nil {
		styles = DefaultStyles()
	}
	rows := make([][]string, 0, len(report.Items))
	for _, item := range report.Items {
		status, where := "ok", item.Location
		if item.Err != nil {
			status, where = "failed", item.Err.Error()
		}
		rows = append(rows, []string{
			styles.StatusIcon(status),
			item.Name,
			string(item.Kind),
			perf.FormatBytes(item.SizeBytes),
			where,
		})
	}
	return RenderSimple([]string{"", "NAME", "VARIANT", "SIZE", "LOCATION"}, rows, styles)
}

// RenderAnchorsTable lists the named watermark anchors.
func RenderAnchorsTable(styles *Styles) string {
	var rows [][]string
	for i, a := range watermark.Anchors() {
		p, _ := a.Position()
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			string(a),
			fmt.Sprintf("%.0f%%", p.X),
			fmt.Sprintf("%.0f%%", p.Y),
		})
	}
	return RenderSimple([]string{"KEY", "ANCHOR", "X", "Y"}, rows, styles)
}
