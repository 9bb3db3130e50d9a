package format

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/storacha/kfs/pkg/shard"
)

// TableFormatter formats output as a table
type TableFormatter struct {
	writer io.Writer
	human  bool
}

func (f *TableFormatter) Format(data any) error {
	switch v := data.(type) {
	case shard.Stats:
		return f.formatStats([]shard.Stats{v})
	case []shard.Stats:
		return f.formatStats(v)
	case []shard.Entry:
		return f.formatEntries(v)
	default:
		return fmt.Errorf("table format not supported for type %T", data)
	}
}

func (f *TableFormatter) size(n int64) string {
	if !f.human {
		return strconv.FormatInt(n, 10)
	}
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

func (f *TableFormatter) formatStats(stats []shard.Stats) error {
	if len(stats) == 0 {
		return f.empty("No shards found")
	}
	rows := make([]table.Row, 0, len(stats))
	for _, st := range stats {
		rows = append(rows, table.Row{
			strconv.Itoa(st.Index),
			f.size(st.Used),
			f.size(st.Free),
		})
	}
	columns := []table.Column{
		{Title: "SHARD", Width: 6},
		{Title: "USED", Width: 16},
		{Title: "FREE", Width: 16},
	}
	return f.render(columns, rows)
}

func (f *TableFormatter) formatEntries(entries []shard.Entry) error {
	if len(entries) == 0 {
		return f.empty("No files found")
	}
	rows := make([]table.Row, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, table.Row{e.Key, f.size(e.Size)})
	}
	columns := []table.Column{
		{Title: "KEY", Width: 40},
		{Title: "SIZE", Width: 16},
	}
	return f.render(columns, rows)
}

func (f *TableFormatter) empty(msg string) error {
	style := lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)
	_, err := fmt.Fprintln(f.writer, style.Render(msg))
	return err
}

func (f *TableFormatter) render(columns []table.Column, rows []table.Row) error {
	width := 0
	for _, c := range columns {
		width += c.Width + 2
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(false),
		// one line for the header
		table.WithHeight(len(rows)+1),
		table.WithWidth(width),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	// nothing is selected in a static table
	s.Selected = s.Cell
	t.SetStyles(s)

	view := t.View()
	if view == "" {
		return f.fallbackTextOutput(rows)
	}
	_, err := fmt.Fprintln(f.writer, view)
	return err
}

func (f *TableFormatter) fallbackTextOutput(rows []table.Row) error {
	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				_, _ = fmt.Fprint(f.writer, "\t")
			}
			_, _ = fmt.Fprint(f.writer, cell)
		}
		_, _ = fmt.Fprintln(f.writer)
	}
	return nil
}
