package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// renderPairs renders label/value rows as a two column table.
func renderPairs(header [2]string, rows [][2]string, alignValueRight bool) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{header[0], header[1]})
	for _, r := range rows {
		tw.AppendRow(table.Row{r[0], r[1]})
	}
	valueAlign := text.AlignLeft
	if alignValueRight {
		valueAlign = text.AlignRight
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 2, Align: valueAlign, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}
