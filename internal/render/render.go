// Package render flattens model-produced Markdown into plain text for
// transports that do not render formatting.
package render

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New()

// PlainText converts Markdown source into readable plain text.
// Emphasis markers disappear, list items keep a dash, links keep their
// destination in parentheses when it differs from the label.
func PlainText(source string) string {
	src := []byte(source)
	doc := md.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	renderNode(&b, doc, src)
	return tidy(b.String())
}

func renderNode(b *strings.Builder, n ast.Node, src []byte) {
	switch v := n.(type) {
	case *ast.Text:
		b.Write(v.Segment.Value(src))
		if v.SoftLineBreak() || v.HardLineBreak() {
			b.WriteByte('\n')
		}
		return
	case *ast.AutoLink:
		b.Write(v.URL(src))
		return
	case *ast.CodeSpan:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				b.Write(t.Segment.Value(src))
			}
		}
		return
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		writeCodeLines(b, n, src)
		b.WriteByte('\n')
		return
	case *ast.Link:
		var label strings.Builder
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			renderNode(&label, c, src)
		}
		b.WriteString(label.String())
		dest := string(v.Destination)
		if dest != "" && dest != label.String() {
			b.WriteString(" (")
			b.WriteString(dest)
			b.WriteByte(')')
		}
		return
	case *ast.Image:
		// alt text only
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			renderNode(b, c, src)
		}
		return
	case *ast.ListItem:
		b.WriteString("- ")
	case *ast.ThematicBreak:
		b.WriteString("----\n")
		return
	}

	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		renderNode(b, c, src)
	}

	switch n.(type) {
	case *ast.Heading, *ast.Paragraph, *ast.ListItem, *ast.Blockquote:
		b.WriteByte('\n')
	case *ast.List:
		b.WriteByte('\n')
	}
}

func writeCodeLines(b *strings.Builder, n ast.Node, src []byte) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
}

// tidy collapses runs of blank lines left by block spacing.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := 0
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
