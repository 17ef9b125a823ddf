package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgallion1/irdigest/internal/deck"
	"github.com/fumiama/go-docx"
	"github.com/yuin/goldmark/ast"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Heading run sizes in half-points, indexed by level.
var headingSizes = [...]string{"", "36", "30", "26", "24", "22", "22"}

// DOCX renders the report as a Word document. Markdown structure maps to
// bold sized runs for headings and one paragraph per block; table rows
// are flattened to pipe-separated lines.
func DOCX(rec deck.Record) ([]byte, error) {
	source := []byte(Markdown(rec))
	tree := md.Parser().Parse(text.NewReader(source))

	w := docx.New().WithDefaultTheme()
	dw := &docxWriter{doc: w, src: source}
	for n := tree.FirstChild(); n != nil; n = n.NextSibling() {
		dw.block(n, "")
	}

	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write docx: %w", err)
	}
	return buf.Bytes(), nil
}

type docxWriter struct {
	doc *docx.Docx
	src []byte
}

func (w *docxWriter) block(n ast.Node, prefix string) {
	switch b := n.(type) {
	case *ast.Heading:
		level := b.Level
		if level >= len(headingSizes) {
			level = len(headingSizes) - 1
		}
		w.doc.AddParagraph().AddText(inline(b, w.src)).Bold().Size(headingSizes[level])
	case *ast.Paragraph, *ast.TextBlock:
		if t := inline(b, w.src); t != "" {
			w.doc.AddParagraph().AddText(prefix + t)
		}
	case *ast.List:
		i := b.Start
		for item := b.FirstChild(); item != nil; item = item.NextSibling() {
			marker := "• "
			if b.IsOrdered() {
				marker = strconv.Itoa(i) + ". "
				i++
			}
			first := true
			for c := item.FirstChild(); c != nil; c = c.NextSibling() {
				p := prefix + "  "
				if first {
					p = prefix + marker
					first = false
				}
				w.block(c, p)
			}
		}
	case *ast.Blockquote:
		for c := b.FirstChild(); c != nil; c = c.NextSibling() {
			w.block(c, prefix+"> ")
		}
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			line := strings.TrimRight(string(seg.Value(w.src)), "\r\n")
			w.doc.AddParagraph().AddText(prefix + line)
		}
	case *east.Table:
		for row := b.FirstChild(); row != nil; row = row.NextSibling() {
			var cells []string
			for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
				cells = append(cells, inline(cell, w.src))
			}
			r := w.doc.AddParagraph().AddText(prefix + strings.Join(cells, " | "))
			if _, ok := row.(*east.TableHeader); ok {
				r.Bold()
			}
		}
	case *ast.ThematicBreak, *ast.HTMLBlock:
	default:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			w.block(c, prefix)
		}
	}
}

func inline(n ast.Node, src []byte) string {
	var buf strings.Builder
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
			case *ast.AutoLink:
				buf.Write(t.URL(src))
			default:
				walk(c)
			}
		}
	}
	walk(n)
	return strings.TrimSpace(buf.String())
}
