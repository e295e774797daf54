// Package render converts log entries to HTML for presentation layers that want it.
package render

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/ashureev/gemini-qa/internal/domain"
)

// Entry is a log entry with its rendered HTML.
type Entry struct {
	Role domain.Role `json:"role"`
	Text string      `json:"text"`
	HTML string      `json:"html"`
}

// Renderer wraps a goldmark instance. Raw HTML in the input is escaped.
type Renderer struct {
	md goldmark.Markdown
}

// New returns a renderer with GFM and hard line breaks.
func New() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

// HTML renders one markdown string.
func (r *Renderer) HTML(src string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

// Entries renders every entry in order.
func (r *Renderer) Entries(entries []domain.LogEntry) ([]Entry, error) {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		h, err := r.HTML(e.Text)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Role: e.Role, Text: e.Text, HTML: h})
	}
	return out, nil
}
