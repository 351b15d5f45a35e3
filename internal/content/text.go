package content

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/litcrawler/internal/rules"
)

const boilerplateSelector = "script, style, noscript, template, nav, footer, header"

var (
	titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	tagPattern   = regexp.MustCompile(`(?s)<[^>]*>`)
	blockPattern = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>|<style[^>]*>.*?</style>|<!--.*?-->`)
)

var blockLevelTags = map[string]struct{}{
	"address": {}, "article": {}, "aside": {}, "blockquote": {}, "br": {},
	"dd": {}, "div": {}, "dl": {}, "dt": {}, "figcaption": {}, "figure": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {}, "hr": {},
	"li": {}, "main": {}, "ol": {}, "p": {}, "pre": {}, "section": {},
	"table": {}, "td": {}, "th": {}, "tr": {}, "ul": {},
}

func documentTitle(doc *goquery.Document) string {
	return rules.CollapseWhitespace(doc.Find("title").First().Text())
}

// bodyText strips boilerplate from doc and returns the whitespace-collapsed
// text of the first region hint that has any, falling back to <body>.
// It mutates doc, so links must be read first.
func bodyText(doc *goquery.Document, hints []string) string {
	doc.Find(boilerplateSelector).Remove()

	for _, hint := range hints {
		if strings.TrimSpace(hint) == "" {
			continue
		}
		if text := nodesText(outermost(doc.Find(hint).Nodes)); text != "" {
			return text
		}
	}
	body := doc.Find("body")
	if body.Length() == 0 {
		return nodesText(doc.Nodes)
	}
	return nodesText(body.Nodes)
}

// outermost drops nodes nested inside another node of the same selection so
// text is not counted twice.
func outermost(nodes []*html.Node) []*html.Node {
	if len(nodes) < 2 {
		return nodes
	}
	set := make(map[*html.Node]struct{}, len(nodes))
	for _, n := range nodes {
		set[n] = struct{}{}
	}
	out := make([]*html.Node, 0, len(nodes))
	for _, n := range nodes {
		nested := false
		for p := n.Parent; p != nil; p = p.Parent {
			if _, ok := set[p]; ok {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, n)
		}
	}
	return out
}

func nodesText(nodes []*html.Node) string {
	var b strings.Builder
	for _, n := range nodes {
		writeText(&b, n)
		b.WriteByte(' ')
	}
	return rules.CollapseWhitespace(b.String())
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.CommentNode, html.DoctypeNode:
		return
	}
	_, block := blockLevelTags[n.Data]
	if block {
		b.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if block {
		b.WriteByte(' ')
	}
}

// regexTitle pulls the first <title> out of raw markup without parsing it.
func regexTitle(body []byte) string {
	m := titlePattern.FindSubmatch(body)
	if m == nil {
		return ""
	}
	return rules.CollapseWhitespace(html.UnescapeString(string(m[1])))
}

// rawText reduces an unparsable payload to plain text.
func rawText(body []byte) string {
	s := strings.ToValidUTF8(string(body), "")
	s = blockPattern.ReplaceAllString(s, " ")
	s = tagPattern.ReplaceAllString(s, " ")
	return rules.CollapseWhitespace(html.UnescapeString(s))
}
