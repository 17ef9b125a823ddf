package extract

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Headings returns the text of every markdown heading in src, in order.
func Headings(src string) []string {
	source := []byte(src)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var out []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			out = append(out, inlineText(h, source))
		}
	}
	return out
}

// CheckCriteria reports which synthesis criteria have no heading in the
// summary. Matching ignores case, numbering, and surrounding punctuation.
func CheckCriteria(summary string) []string {
	headings := Headings(summary)
	norm := make([]string, len(headings))
	for i, h := range headings {
		norm[i] = normalizeHeading(h)
	}

	var missing []string
	for _, c := range Criteria {
		want := normalizeHeading(c)
		found := false
		for _, h := range norm {
			if strings.Contains(h, want) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, c)
		}
	}
	return missing
}

func normalizeHeading(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, " and ", " & ")
	return strings.Join(strings.Fields(s), " ")
}

func inlineText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch t := c.(type) {
			case *ast.Text:
				buf.Write(t.Segment.Value(src))
				if t.SoftLineBreak() || t.HardLineBreak() {
					buf.WriteByte(' ')
				}
			case *ast.String:
				buf.Write(t.Value)
			default:
				walk(c)
			}
		}
	}
	walk(n)
	return strings.TrimSpace(buf.String())
}
