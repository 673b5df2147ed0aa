package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// column describes one table column. Numeric columns are right aligned.
type column struct {
	Title   string
	Numeric bool
}

func columns(titles ...string) []column {
	cols := make([]column, len(titles))
	for i, t := range titles {
		cols[i] = column{Title: t}
	}
	return cols
}

// listing is a rendered report: a header row, data rows, and an optional
// count footer naming what the rows are ("session", "channel").
type listing struct {
	Columns []column
	Rows    [][]string
	Noun    string
}

func (l listing) render() string {
	if len(l.Columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Header = text.FormatDefault
	tw.Style().Format.Footer = text.FormatDefault

	header := make(table.Row, len(l.Columns))
	configs := make([]table.ColumnConfig, len(l.Columns))
	for i, c := range l.Columns {
		header[i] = c.Title
		align := text.AlignLeft
		if c.Numeric {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range l.Rows {
		r := make(table.Row, len(l.Columns))
		for i := range r {
			r[i] = ""
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	if l.Noun != "" {
		footer := make(table.Row, len(l.Columns))
		for i := range footer {
			footer[i] = ""
		}
		footer[0] = plural(len(l.Rows), l.Noun)
		tw.AppendFooter(footer)
	}
	return tw.Render()
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
