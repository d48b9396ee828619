package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"parley/model"
)

var (
	dimColor       = lipgloss.Color("7")
	accentColor    = lipgloss.Color("12")
	successColor   = lipgloss.Color("10")
	warningColor   = lipgloss.Color("11")
	dangerColor    = lipgloss.Color("9")
	highlightColor = lipgloss.Color("13")

	// User message style
	UserStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	// Assistant message style
	AssistantStyle = lipgloss.NewStyle().
			Foreground(accentColor)

	// System/timestamp style
	DimStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	// Reasoning is shown dimmed and italic under the reply
	ReasoningStyle = lipgloss.NewStyle().
			Foreground(dimColor).
			Italic(true)

	ToolStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(dangerColor).
			Bold(true)

	HighlightStyle = lipgloss.NewStyle().
			Foreground(highlightColor).
			Bold(true)
)

// RoleLabel renders the display name of a message role
func RoleLabel(role model.Role) string {
	switch role {
	case model.RoleUser:
		return UserStyle.Render("You")
	case model.RoleAssistant:
		return AssistantStyle.Render("Assistant")
	default:
		return DimStyle.Render("System")
	}
}

// FormatHelp formats alternating commands and descriptions, one pair per line.
// Usage: FormatHelp("/regen", "Regenerate the last reply", "/quit", "Exit")
func FormatHelp(parts ...string) string {
	descStyle := lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	width := 0
	for i := 0; i < len(parts); i += 2 {
		if len(parts[i]) > width {
			width = len(parts[i])
		}
	}

	var result []string
	for i := 0; i+1 < len(parts); i += 2 {
		result = append(result, "  "+parts[i]+strings.Repeat(" ", width-len(parts[i])+2)+descStyle.Render(parts[i+1]))
	}
	return strings.Join(result, "\n")
}
