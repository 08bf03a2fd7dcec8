package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mattjoyce/deploygw/internal/deploy"
)

// theme keeps all CLI colors in one place. Styles degrade to plain text when
// output is not a terminal.
type theme struct {
	OK        lipgloss.Style
	Warn      lipgloss.Style
	Failed    lipgloss.Style
	Dim       lipgloss.Style
	Header    lipgloss.Style
	Highlight lipgloss.Style
	Border    lipgloss.Style
}

func newTheme() theme {
	purple := lipgloss.Color("#874BFD")

	return theme{
		OK:        lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Warn:      lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		Failed:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		Border:    lipgloss.NewStyle().Foreground(purple),
	}
}

// eventStyle colors an event label by outcome.
func (t theme) eventStyle(label string) lipgloss.Style {
	switch deploy.ParseEventType(label) {
	case deploy.EventSucceeded:
		return t.OK
	case deploy.EventFailed:
		return t.Failed
	case deploy.EventLocked, deploy.EventUnlocked:
		return t.Highlight
	default:
		return t.Dim
	}
}

// colorReport styles a doctor.FormatHuman report line by line.
func (t theme) colorReport(report string, valid bool) string {
	lines := strings.Split(strings.TrimRight(report, "\n"), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case i == 0 && valid:
			lines[i] = t.OK.Bold(true).Render(line)
		case i == 0:
			lines[i] = t.Failed.Bold(true).Render(line)
		case strings.HasPrefix(trimmed, "ERROR"):
			lines[i] = t.Failed.Render(line)
		case strings.HasPrefix(trimmed, "WARN"):
			lines[i] = t.Warn.Render(line)
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

// deployTable renders deploy records newest first.
func (t theme) deployTable(records []deploy.Record) string {
	tbl := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(t.Border).
		Headers("RECEIVED", "EVENT", "DEPLOY", "SITE", "BRANCH", "DETAIL")

	for _, rec := range records {
		detail := rec.DeployURL
		if rec.ErrorMessage != "" {
			detail = rec.ErrorMessage
		}
		tbl.Row(
			rec.ReceivedAt.Local().Format("2006-01-02 15:04:05"),
			rec.Event,
			rec.DeployID,
			rec.SiteName,
			rec.Branch,
			detail,
		)
	}

	tbl.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return t.Header.Padding(0, 1)
		}
		if col == 1 && row >= 0 && row < len(records) {
			return t.eventStyle(records[row].Event).Padding(0, 1)
		}
		return lipgloss.NewStyle().Padding(0, 1)
	})

	return tbl.Render() + "\n"
}
