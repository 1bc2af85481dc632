package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/screenpilot/internal/generation"
	"github.com/fyrsmithlabs/screenpilot/internal/rag"
	"github.com/fyrsmithlabs/screenpilot/internal/vectorstore"
)

const excerptPreview = 120

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	answerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("46")).
		Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

// renderAnswer formats an answer with its provider and sources.
func renderAnswer(resp generation.Response) string {
	var b strings.Builder
	b.WriteString(answerStyle.Render(strings.TrimSpace(resp.Answer)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s  %s %s\n",
		labelStyle.Render("provider:"), resp.Provider,
		labelStyle.Render("trace:"), dimStyle.Render(resp.TraceID))

	if len(resp.Sources) == 0 {
		b.WriteString(dimStyle.Render("no document context was used"))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(headerStyle.Render("Sources"))
	b.WriteString("\n")
	for i, s := range resp.Sources {
		fmt.Fprintf(&b, "%d. %s %s\n   %s\n",
			i+1, s.SourceRef, dimStyle.Render(fmt.Sprintf("(%.3f)", s.Score)),
			dimStyle.Render(preview(s.Text)))
	}
	return b.String()
}

func renderIngest(res rag.IngestResult) string {
	return fmt.Sprintf("%s %s %s\n", okStyle.Render("ingested"), res.SourceRef,
		dimStyle.Render(fmt.Sprintf("(%d chunks)", res.ChunksCreated)))
}

func renderDocuments(docs []vectorstore.SourceInfo) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%d documents", len(docs))))
	b.WriteString("\n")
	for _, d := range docs {
		fmt.Fprintf(&b, "  %s %s\n", d.SourceRef, dimStyle.Render(fmt.Sprintf("(%d chunks)", d.Chunks)))
	}
	return b.String()
}

// preview flattens whitespace and cuts text to excerptPreview runes.
func preview(text string) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) <= excerptPreview {
		return flat
	}
	return string(runes[:excerptPreview]) + "…"
}
