package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Field is one key/value line in a banner or result box.
type Field struct {
	Key   string
	Value string
}

// SortedFields turns a map into fields ordered by key.
func SortedFields(m map[string]string) []Field {
	fields := make([]Field, 0, len(m))
	for k, v := range m {
		fields = append(fields, Field{Key: k, Value: v})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })
	return fields
}

// RenderBanner renders a titled box with a subtitle and fields, used when a
// command starts.
func RenderBanner(title, subtitle string, fields []Field, width int) string {
	width = clampWidth(width)
	top := lipgloss.JoinVertical(lipgloss.Left,
		TitleStyle.Render(strings.ToUpper(title)),
		SubtitleStyle.Render(subtitle),
	)
	content := top
	if len(fields) > 0 {
		content = lipgloss.JoinVertical(lipgloss.Left, top, Divider(width-6), renderFields(fields))
	}
	return BoxStyle(width, PrimaryColor).Render(content)
}

// RenderSuccess renders a success box.
func RenderSuccess(title string, fields []Field, width int) string {
	width = clampWidth(width)
	lines := []string{"", SuccessTitleStyle.Render("  " + SuccessMarker + "  " + title), ""}
	if len(fields) > 0 {
		lines = append(lines, renderFields(fields), "")
	}
	return BoxStyle(width, SuccessColor).Render(strings.Join(lines, "\n"))
}

// RenderFailure renders an error box with optional hints.
func RenderFailure(title string, err error, hints []string, width int) string {
	width = clampWidth(width)
	lines := []string{"", ErrorTitleStyle.Render("  " + FailureMarker + "  " + title), ""}
	if err != nil {
		lines = append(lines, ErrorMessageStyle.Render("  Error: "+err.Error()), "")
	}
	for _, hint := range hints {
		lines = append(lines, HintStyle.Render("  • "+hint))
	}
	if len(hints) > 0 {
		lines = append(lines, "")
	}
	return BoxStyle(width, ErrorColor).Render(strings.Join(lines, "\n"))
}

func renderFields(fields []Field) string {
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		lines = append(lines, KeyStyle.Render(f.Key+":")+" "+ValueStyle.Render(f.Value))
	}
	return strings.Join(lines, "\n")
}

// RenderTable renders rows under a header with columns padded to the widest
// cell.
func RenderTable(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := range header {
			if i < len(row) && lipgloss.Width(row[i]) > widths[i] {
				widths[i] = lipgloss.Width(row[i])
			}
		}
	}

	line := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(header))
		for i := range header {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = style.Width(widths[i]).Render(cell)
		}
		return "  " + strings.Join(parts, "  ")
	}

	out := []string{line(header, TableHeaderStyle)}
	for _, row := range rows {
		out = append(out, line(row, TableCellStyle))
	}
	return strings.Join(out, "\n")
}

// Printer writes styled output at a fixed width.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a Printer for w, or stdout when w is nil.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{out: w, width: GetTerminalWidth()}
}

// Width returns the rendering width.
func (p *Printer) Width() int {
	return p.width
}

func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

func (p *Printer) PrintBanner(title, subtitle string, fields []Field) {
	p.Println(RenderBanner(title, subtitle, fields, p.width))
}

func (p *Printer) PrintSuccess(title string, fields []Field) {
	p.Println(RenderSuccess(title, fields, p.width))
}

func (p *Printer) PrintFailure(title string, err error, hints []string) {
	p.Println(RenderFailure(title, err, hints, p.width))
}

func (p *Printer) PrintTable(header []string, rows [][]string) {
	p.Println(RenderTable(header, rows))
}
