package ingest

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"podscript/pkg/model"
)

// Extract reads a source and returns its prose as a Document. HTML is
// reduced to body paragraphs; plain text passes through unchanged.
func Extract(r io.Reader, format model.SourceFormat) (model.Document, error) {
	switch format {
	case model.FormatText, "":
		return extractText(r)
	case model.FormatHTML:
		return extractHTML(r)
	default:
		return model.Document{}, model.NewInputError("unsupported source format %q", format)
	}
}

func extractText(r io.Reader) (model.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return model.Document{}, fmt.Errorf("reading input: %w", err)
	}
	if !utf8.Valid(data) {
		return model.Document{}, model.NewInputError("input is not valid UTF-8")
	}
	return model.NewDocument(strings.TrimSpace(string(data)), model.FormatText), nil
}

func extractHTML(r io.Reader) (model.Document, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return model.Document{}, fmt.Errorf("parsing html: %w", err)
	}

	root := findBody(doc)
	if root == nil {
		root = doc
	}

	var paras []string
	collectProse(root, &paras)

	return model.NewDocument(strings.Join(paras, "\n\n"), model.FormatHTML), nil
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if res := findBody(c); res != nil {
			return res
		}
	}
	return nil
}

// collectProse walks the tree gathering paragraph and heading text,
// skipping navigation chrome.
func collectProse(n *html.Node, paras *[]string) {
	if n.Type == html.ElementNode {
		if isChrome(n) {
			return
		}
		switch n.DataAtom {
		case atom.P, atom.H1, atom.H2, atom.H3, atom.H4, atom.Li, atom.Blockquote:
			text := cleanBlock(n)
			if text != "" {
				*paras = append(*paras, text)
			}
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectProse(c, paras)
	}
}

func isChrome(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Nav, atom.Header, atom.Footer, atom.Aside, atom.Noscript:
		return true
	}
	for _, a := range n.Attr {
		if a.Key == "class" || a.Key == "id" {
			val := strings.ToLower(a.Val)
			if strings.Contains(val, "navbox") ||
				strings.Contains(val, "reflist") ||
				strings.Contains(val, "sidebar") ||
				strings.Contains(val, "comment") {
				return true
			}
		}
	}
	return false
}

// cleanBlock renders a block element's text, dropping citation markers
// and embedded style/script.
func cleanBlock(n *html.Node) string {
	var b strings.Builder
	walkBlock(n, &b)
	return strings.Join(strings.Fields(b.String()), " ")
}

func walkBlock(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteString(" ")
		return
	}

	if n.Type == html.ElementNode {
		if n.DataAtom == atom.Sup || n.DataAtom == atom.Style || n.DataAtom == atom.Script {
			return
		}
		for _, a := range n.Attr {
			if a.Key == "class" && strings.Contains(a.Val, "reference") {
				return
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkBlock(c, b)
	}
}
