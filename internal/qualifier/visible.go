package qualifier

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// VisibleText renders an HTML document down to the text a reader would see.
// Script, style, noscript and template contents are stripped; markup inside
// attributes never counts. Each text node is trimmed and the segments are
// joined with a single space, so adjacent cells or blocks never run together
// into phantom matches.
func VisibleText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("qualifier: parse html: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()

	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return strings.Join(parts, " "), nil
}
