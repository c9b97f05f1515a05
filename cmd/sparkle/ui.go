package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	idStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	taglineStyle = lipgloss.NewStyle().Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	openStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// isTerminal reports whether stdout is a TTY.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// shouldUseColor honors NO_COLOR and falls back to TTY detection.
func shouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isTerminal()
}

// styled applies a style only when color output is wanted.
func styled(s lipgloss.Style, text string) string {
	if !shouldUseColor() {
		return text
	}
	return s.Render(text)
}

// statusStyled colors a status name by completion.
func statusStyled(status string) string {
	if status == "completed" {
		return styled(doneStyle, status)
	}
	return styled(openStyle, status)
}

// renderMarkdown pretty-prints entry text on a TTY, falling back to the
// raw text anywhere rendering is unwanted or fails.
func renderMarkdown(text string) string {
	if !shouldUseColor() {
		return text
	}
	wrapWidth := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && w < wrapWidth {
		wrapWidth = w
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wrapWidth),
	)
	if err != nil {
		return text
	}
	rendered, err := renderer.Render(text)
	if err != nil {
		return text
	}
	return rendered
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
