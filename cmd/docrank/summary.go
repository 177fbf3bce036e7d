package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dgallion1/docrank/internal/pipeline"
)

var (
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var summaryColumns = []string{"INSTRUCTION", "STATUS", "SKIPPED", "RANKED", "WARNINGS", "OUTPUT"}

// renderSummary draws one row per instruction followed by batch totals.
func renderSummary(sum *pipeline.Summary) string {
	rows := make([][]string, 0, len(sum.Outcomes))
	for _, o := range sum.Outcomes {
		rows = append(rows, summaryRow(o))
	}

	widths := make([]int, len(summaryColumns))
	for i, c := range summaryColumns {
		widths[i] = lipgloss.Width(c)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var b strings.Builder
	b.WriteString(renderRow(summaryColumns, widths, func(int, string) lipgloss.Style { return headerStyle }))
	for _, row := range rows {
		b.WriteByte('\n')
		b.WriteString(renderRow(row, widths, cellStyle))
	}

	totals := fmt.Sprintf("%d instructions: %s, %s",
		sum.Total(),
		okStyle.Render(fmt.Sprintf("%d succeeded", sum.Succeeded)),
		failStyle.Render(fmt.Sprintf("%d failed", sum.Failed)),
	)
	footer := dimStyle.Render("output: " + sum.OutputDir)

	return boxStyle.Render(b.String()) + "\n" + totals + "\n" + footer
}

func summaryRow(o pipeline.Outcome) []string {
	name := o.TestCaseName
	if name == "" {
		name = filepath.Base(o.Path)
	}

	status, skipped, ranked, warnings := "invalid", "-", "-", "-"
	if o.Run != nil {
		status = string(o.Run.Status)
		skipped = fmt.Sprint(o.Run.Counts.DocumentsSkipped)
		ranked = fmt.Sprint(o.Run.Counts.SectionsRanked)
		warnings = fmt.Sprint(len(o.Run.Warnings))
	}

	output := "-"
	switch {
	case o.OK():
		output = filepath.Base(o.OutputPath)
	case o.Err != nil:
		output = o.Err.Error()
	}
	return []string{name, status, skipped, ranked, warnings, output}
}

func renderRow(cells []string, widths []int, style func(col int, cell string) lipgloss.Style) string {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = style(i, cell).Copy().Width(widths[i]).Render(cell)
	}
	return strings.Join(parts, "  ")
}

// cellStyle colours the status column.
func cellStyle(col int, cell string) lipgloss.Style {
	if col != 1 {
		return lipgloss.NewStyle()
	}
	switch pipeline.RunStatus(cell) {
	case pipeline.StatusCompleted:
		return okStyle
	case pipeline.StatusPartial:
		return warnStyle
	default:
		return failStyle
	}
}
