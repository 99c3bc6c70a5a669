package export

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

// Raw HTML in descriptions is dropped: goldmark only emits it with html.WithUnsafe.
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// RenderMarkdown converts an idea description to HTML.
func RenderMarkdown(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return template.HTML(buf.String()), nil
}

// BuildMarkdown produces a standalone Markdown document for the idea and its history.
func BuildMarkdown(doc Document) string {
	var b strings.Builder
	idea := doc.Idea

	fmt.Fprintf(&b, "# %s\n\n", idea.Title)
	fmt.Fprintf(&b, "_Maturity %d/10", idea.Rank)
	if doc.Author != "" {
		fmt.Fprintf(&b, " · by %s", doc.Author)
	}
	fmt.Fprintf(&b, " · updated %s_\n\n", idea.DateModified.UTC().Format("2006-01-02"))
	b.WriteString(strings.TrimSpace(idea.Description))
	b.WriteString("\n")

	if len(doc.Versions) > 0 {
		b.WriteString("\n## History\n")
		for _, v := range doc.Versions {
			fmt.Fprintf(&b, "\n### Version %d (%s), maturity %d/10\n\n", v.VersionNumber, v.CreatedAt.UTC().Format("2006-01-02 15:04"), v.Rank)
			fmt.Fprintf(&b, "**%s**\n\n%s\n", v.Title, strings.TrimSpace(v.Description))
		}
	}
	return b.String()
}
