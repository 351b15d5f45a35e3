package content

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/litcrawler/internal/urlcanon"
)

var skippedSchemes = []string{"javascript:", "mailto:"}

// ExtractLinks returns the canonical, crawlable targets of every anchor in doc,
// resolved against pageURL (or the document's <base href>), in discovery
// order and without duplicates.
func ExtractLinks(doc *goquery.Document, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, berr := base.Parse(strings.TrimSpace(href)); berr == nil {
			base = b
		}
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if skipHref(href) {
			return
		}
		link, rerr := urlcanon.Resolve(base, href)
		if rerr != nil {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}

func skipHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	lower := strings.ToLower(href)
	for _, scheme := range skippedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}
