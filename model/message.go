package model

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies the author of a message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType identifies the variant held by a ContentPart
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image_url"
)

// ContentPart is one piece of multi-part message content
type ContentPart struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`
	URL  string   `json:"url,omitempty"`
}

// TextPart returns a text content part
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart returns an image reference content part
func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartImage, URL: url}
}

// Message represents a chat message in the conversation.
//
// Content is either plain Text or a sequence of Parts. When Parts is non-empty
// it takes precedence and Text is left empty.
type Message struct {
	ID         string        `json:"id"`
	Role       Role          `json:"role"`
	Text       string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	Reasoning  string        `json:"reasoning,omitempty"`
	ToolStatus *ToolStatus   `json:"tool_status,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// PlainText returns the textual content of the message, joining text parts
func (m Message) PlainText() string {
	if len(m.Parts) == 0 {
		return m.Text
	}

	var texts []string
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Images returns the image URLs attached to the message
func (m Message) Images() []string {
	var urls []string
	for _, p := range m.Parts {
		if p.Type == PartImage {
			urls = append(urls, p.URL)
		}
	}
	return urls
}

// HasImages reports whether any image part is attached
func (m Message) HasImages() bool {
	return len(m.Images()) > 0
}

// Clone returns a deep copy so callers can't mutate shared slices or the tool status
func (m Message) Clone() Message {
	out := m
	if m.Parts != nil {
		out.Parts = append([]ContentPart(nil), m.Parts...)
	}
	if m.ToolStatus != nil {
		ts := m.ToolStatus.Clone()
		out.ToolStatus = &ts
	}
	return out
}

// Validate checks the role and content variant of a message
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("invalid role %q", m.Role)
	}

	for i, p := range m.Parts {
		switch p.Type {
		case PartText:
		case PartImage:
			if p.URL == "" {
				return fmt.Errorf("part %d: image part without url", i)
			}
		default:
			return fmt.Errorf("part %d: unknown part type %q", i, p.Type)
		}
	}
	return nil
}
