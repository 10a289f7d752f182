package fetch

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipElements are HTML elements whose subtree carries no readable
// content. The head is skipped too; the title is captured separately.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
}

// blockElements get a line break before their content so extracted
// text keeps some document structure.
var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Main: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Blockquote: true,
	atom.Pre: true, atom.Ul: true, atom.Ol: true, atom.Li: true,
	atom.Table: true, atom.Tr: true, atom.Br: true,
}

// Extract tokenizes HTML and returns the document title and readable
// text, with boilerplate (scripts, navigation, chrome) removed and
// whitespace normalized.
func Extract(raw string) (title, text string) {
	z := html.NewTokenizer(strings.NewReader(raw))

	var b strings.Builder
	skipDepth := 0
	inTitle := false

	for {
		switch z.Next() {
		case html.ErrorToken:
			return title, cleanWhitespace(b.String())

		case html.StartTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skipElements[a] {
				skipDepth++
			}
			if a == atom.Title {
				inTitle = true
			}
			if skipDepth == 0 && blockElements[a] {
				b.WriteByte('\n')
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skipElements[a] && skipDepth > 0 {
				skipDepth--
			}
			if a == atom.Title {
				inTitle = false
			}

		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Br && skipDepth == 0 {
				b.WriteByte('\n')
			}

		case html.TextToken:
			t := string(z.Text())
			if inTitle {
				if title == "" {
					title = strings.TrimSpace(t)
				}
				continue
			}
			if skipDepth == 0 {
				if s := strings.TrimSpace(t); s != "" {
					b.WriteString(s)
					b.WriteByte(' ')
				}
			}
		}
	}
}

// cleanWhitespace collapses runs of spaces within lines and drops
// consecutive blank lines.
func cleanWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	cleaned := make([]string, 0, len(lines))
	prevEmpty := false

	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if prevEmpty {
				continue
			}
			prevEmpty = true
		} else {
			prevEmpty = false
		}
		cleaned = append(cleaned, line)
	}

	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}
