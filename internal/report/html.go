package report

import (
	"bytes"
	"fmt"

	"github.com/dgallion1/irdigest/internal/deck"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const stylesheet = `body{font-family:sans-serif;max-width:60rem;margin:2rem auto;line-height:1.5}
table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:.25rem .5rem}
blockquote{color:#a00}`

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// HTML renders the report as a standalone HTML document. Page data
// commonly holds GFM tables, so the table extension is on.
func HTML(rec deck.Record) ([]byte, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(Markdown(rec)), &body); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}

	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})

	root := element(atom.Html)
	root.Attr = []html.Attribute{{Key: "lang", Val: "en"}}
	doc.AppendChild(root)

	head := element(atom.Head)
	meta := element(atom.Meta)
	meta.Attr = []html.Attribute{{Key: "charset", Val: "utf-8"}}
	head.AppendChild(meta)
	title := element(atom.Title)
	title.AppendChild(&html.Node{Type: html.TextNode, Data: Title(rec)})
	head.AppendChild(title)
	style := element(atom.Style)
	style.AppendChild(&html.Node{Type: html.TextNode, Data: stylesheet})
	head.AppendChild(style)
	root.AppendChild(head)

	bodyNode := element(atom.Body)
	root.AppendChild(bodyNode)

	nodes, err := html.ParseFragment(&body, bodyNode)
	if err != nil {
		return nil, fmt.Errorf("parse rendered body: %w", err)
	}
	for _, n := range nodes {
		bodyNode.AppendChild(n)
	}

	var out bytes.Buffer
	if err := html.Render(&out, doc); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return out.Bytes(), nil
}

func element(a atom.Atom) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
}
