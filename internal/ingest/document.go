package ingest

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Document is the structural view strategies query. Strategies only talk to
// this interface so the markup parser can be swapped.
type Document interface {
	// Blocks returns the elements matching selector, in document order.
	Blocks(selector string) []Block
	Root() Block
	// Title is the best page-level title: og:title, then <title>.
	Title() string
	// Lines returns the text of leaf block elements, de-duplicated, in order.
	Lines() []string
	// Sections pairs each heading matching selector with the text that follows it.
	Sections(selector string) []Section
	// JSONLD returns the raw bodies of application/ld+json scripts.
	JSONLD() []string
	// Scripts returns the bodies of inline script elements.
	Scripts() []string
}

// Block is one element of a Document.
type Block interface {
	// Text returns the text of the first selector in chain that yields a
	// non-empty value. "." is the block itself and empty selectors are skipped,
	// so unset hints can lead a chain. With no chain it returns the whole
	// block with a space between text nodes, so table cells stay apart.
	Text(chain ...string) string
	// Attr returns attr of the first element in chain that carries it.
	Attr(attr string, chain ...string) string
	HTML() string
}

type Section struct {
	Heading string
	Body    string
}

// ParseHTML builds a goquery-backed Document.
func ParseHTML(content string) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &htmlDocument{doc: doc}, nil
}

type htmlDocument struct {
	doc *goquery.Document
}

type htmlBlock struct {
	sel *goquery.Selection
}

func (d *htmlDocument) Blocks(selector string) []Block {
	if strings.TrimSpace(selector) == "" {
		return nil
	}
	var out []Block
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, htmlBlock{sel: s})
	})
	return out
}

func (d *htmlDocument) Root() Block {
	return htmlBlock{sel: d.doc.Selection}
}

func (d *htmlDocument) Title() string {
	if og, ok := d.doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok && strings.TrimSpace(og) != "" {
		return cleanText(og)
	}
	return cleanText(d.doc.Find("title").First().Text())
}

const leafBlocks = "p, li, h1, h2, h3, h4, h5, h6, td, dd, dt, div, article, section, blockquote, pre"

func (d *htmlDocument) Lines() []string {
	seen := make(map[string]struct{})
	var out []string
	root := d.doc.Selection.Clone()
	root.Find("script, style, noscript").Remove()
	root.Find(leafBlocks).Each(func(_ int, s *goquery.Selection) {
		if s.Children().Filter(leafBlocks).Length() > 0 {
			return
		}
		line := cleanText(s.Text())
		if line == "" {
			return
		}
		if _, dup := seen[line]; dup {
			return
		}
		seen[line] = struct{}{}
		out = append(out, line)
	})
	return out
}

func (d *htmlDocument) Sections(selector string) []Section {
	var out []Section
	d.doc.Find(selector).Each(func(_ int, h *goquery.Selection) {
		heading := cleanText(h.Text())
		if heading == "" {
			return
		}
		var body []string
		h.NextUntil(selector).Each(func(_ int, s *goquery.Selection) {
			if t := cleanText(s.Text()); t != "" {
				body = append(body, t)
			}
		})
		out = append(out, Section{Heading: heading, Body: strings.Join(body, "\n")})
	})
	return out
}

func (d *htmlDocument) JSONLD() []string {
	var out []string
	d.doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		if body := strings.TrimSpace(s.Text()); body != "" {
			out = append(out, body)
		}
	})
	return out
}

func (d *htmlDocument) Scripts() []string {
	var out []string
	d.doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if typ, _ := s.Attr("type"); strings.Contains(typ, "ld+json") {
			return
		}
		if body := strings.TrimSpace(s.Text()); body != "" {
			out = append(out, body)
		}
	})
	return out
}

func (b htmlBlock) Text(chain ...string) string {
	if len(chain) == 0 {
		return spacedText(b.sel)
	}
	for _, selector := range chain {
		selector = strings.TrimSpace(selector)
		if selector == "" {
			continue
		}
		var t string
		if selector == "." {
			t = b.sel.Text()
		} else {
			t = b.sel.Find(selector).First().Text()
		}
		if t = cleanText(t); t != "" {
			return t
		}
	}
	return ""
}

func (b htmlBlock) Attr(attr string, chain ...string) string {
	if len(chain) == 0 {
		chain = []string{"."}
	}
	for _, selector := range chain {
		selector = strings.TrimSpace(selector)
		if selector == "" {
			continue
		}
		s := b.sel
		if selector != "." {
			s = b.sel.Find(selector).First()
		}
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func (b htmlBlock) HTML() string {
	h, err := goquery.OuterHtml(b.sel)
	if err != nil {
		return ""
	}
	return h
}

func spacedText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return cleanText(b.String())
}
