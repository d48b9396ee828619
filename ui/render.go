// Package ui renders a conversation to a line-oriented terminal.
package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"parley/model"
)

// FormatMessage renders a whole message the way it appears in history
func FormatMessage(msg model.Message) string {
	timestamp := DimStyle.Render(msg.Timestamp.Format("[15:04]"))
	header := fmt.Sprintf("%s %s", timestamp, RoleLabel(msg.Role))

	if msg.Role == model.RoleUser {
		return formatUserMessage(header, msg)
	}

	var content strings.Builder
	content.WriteString(header + "\n")
	if status := FormatToolStatus(msg.ToolStatus); status != "" {
		content.WriteString(status + "\n")
	}
	content.WriteString(formatReplyText(msg.Text) + "\n")
	if msg.Reasoning != "" {
		content.WriteString(ReasoningStyle.Render(msg.Reasoning) + "\n")
	}
	return content.String()
}

// formatUserMessage prefixes every line with a bar so the user's turns
// stand apart from replies
func formatUserMessage(header string, msg model.Message) string {
	bar := UserStyle.Render("┃")

	var result strings.Builder
	result.WriteString(fmt.Sprintf("%s %s\n", bar, header))
	for _, line := range strings.Split(msg.PlainText(), "\n") {
		result.WriteString(fmt.Sprintf("%s %s\n", bar, line))
	}
	for _, url := range msg.Images() {
		result.WriteString(fmt.Sprintf("%s %s\n", bar, DimStyle.Render("[image] "+truncateURL(url))))
	}
	return result.String()
}

// FormatToolStatus renders a one-line summary of a tool invocation, or ""
func FormatToolStatus(status *model.ToolStatus) string {
	if status == nil || status.State == "" {
		return ""
	}

	line := fmt.Sprintf("⚙ %s", status.State)
	if len(status.Tools) > 0 {
		line += " " + strings.Join(status.Tools, ", ")
	}
	switch {
	case status.State == model.ToolError && status.Error != "":
		return ErrorStyle.Render(line + ": " + status.Error)
	case status.Message != "":
		line += " (" + status.Message + ")"
	}
	return ToolStyle.Render(line)
}

func formatReplyText(text string) string {
	if strings.HasPrefix(text, "❌") {
		return ErrorStyle.Render(text)
	}
	return text
}

func truncateURL(url string) string {
	if strings.HasPrefix(url, "data:") {
		if i := strings.Index(url, ","); i > 0 {
			return url[:i] + ",…"
		}
	}
	if len(url) > 60 {
		return url[:57] + "..."
	}
	return url
}

// Renderer follows the newest assistant message of a conversation and
// writes its text as it grows. Its Update method is meant to be passed to
// conversation.Store.Subscribe.
type Renderer struct {
	mu      sync.Mutex
	out     io.Writer
	current string
	printed string
	state   model.ToolState
}

func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out}
}

// Update reconciles the terminal with a new snapshot of the conversation
func (r *Renderer) Update(msgs []model.Message) {
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	if last.Role != model.RoleAssistant {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if last.ID != r.current {
		r.current = last.ID
		r.printed = ""
		r.state = ""
		timestamp := DimStyle.Render(last.Timestamp.Format("[15:04]"))
		fmt.Fprintf(r.out, "%s %s\n", timestamp, RoleLabel(model.RoleAssistant))
	}

	if last.ToolStatus != nil && last.ToolStatus.State != r.state {
		r.state = last.ToolStatus.State
		if r.printed != "" {
			fmt.Fprintln(r.out)
		}
		fmt.Fprintln(r.out, FormatToolStatus(last.ToolStatus))
	}

	switch {
	case last.Text == r.printed:
	case strings.HasPrefix(last.Text, r.printed):
		fmt.Fprint(r.out, last.Text[len(r.printed):])
		r.printed = last.Text
	default:
		// The reply was replaced, typically by a diagnostic
		fmt.Fprintf(r.out, "\n%s", formatReplyText(last.Text))
		r.printed = last.Text
	}
}

// Finish ends the block of the current reply, printing its reasoning
func (r *Renderer) Finish(msg model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == r.current && msg.Text != r.printed {
		if strings.HasPrefix(msg.Text, r.printed) {
			fmt.Fprint(r.out, msg.Text[len(r.printed):])
		} else {
			fmt.Fprintf(r.out, "\n%s", formatReplyText(msg.Text))
		}
	}
	fmt.Fprintln(r.out)
	if msg.Role == model.RoleAssistant && msg.Reasoning != "" {
		fmt.Fprintln(r.out, ReasoningStyle.Render(msg.Reasoning))
	}
	r.current = ""
	r.printed = ""
	r.state = ""
}
