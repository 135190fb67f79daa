package main

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/repodigest/internal/digest"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45")).
			Width(12)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

// renderSummary formats the digest statistics for stderr.
func renderSummary(res *digest.Result, output string) string {
	s := res.Stats

	languages := strings.Join(s.Languages, ", ")
	if languages == "" {
		languages = dimStyle.Render("none")
	}
	dest := output
	if dest == "" {
		dest = "stdout"
	}

	rows := []string{
		titleStyle.Render("repodigest") + " " + dimStyle.Render(res.Repository),
		"",
		row("Files", strconv.Itoa(s.TotalFiles)),
		row("Size", digest.FormatKB(s.TotalSize)),
		row("Languages", languages),
		row("Tests", strconv.Itoa(s.TestFiles)),
		row("Docs", strconv.Itoa(s.DocFiles)),
		row("Format", res.Format),
		row("Written to", dest),
	}
	return containerStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), valueStyle.Render(value))
}
