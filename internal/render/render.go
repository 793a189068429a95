// Package render turns forum markdown into the HTML sent to the ticketing
// service and sanitizes HTML received from it.
package render

import (
	"bytes"
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/tuannvm/zendesk-forum-sync/internal/models"
)

// Renderer converts and sanitizes message bodies. It is safe for concurrent
// use.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// New creates a new Renderer
func New() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Linkify,
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre")

	return &Renderer{md: md, policy: policy}
}

// ToHTML converts markdown and sanitizes the result.
func (r *Renderer) ToHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown to HTML: %w", err)
	}
	return r.policy.Sanitize(buf.String()), nil
}

// Sanitize strips unsafe markup from HTML.
func (r *Renderer) Sanitize(htmlContent string) string {
	return r.policy.Sanitize(htmlContent)
}

// MessageBody renders a forum message for a ticket comment, followed by a
// link back to the message when it has a URL.
func (r *Renderer) MessageBody(m *models.Message) (string, error) {
	raw := m.Raw
	if m.URL != "" {
		raw = fmt.Sprintf("%s\n\n[source: <%s>]", raw, m.URL)
	}
	return r.ToHTML(raw)
}
