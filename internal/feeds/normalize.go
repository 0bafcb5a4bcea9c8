package feeds

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var blankLinesRe = regexp.MustCompile(`(\n\s*){2,}`)

// mainContentSelectors are tried in order before falling back to the whole
// body.
var mainContentSelectors = []string{
	"article", "main", ".main-content", ".entry-content", ".post-content",
	".post-body", ".article-body", "[role='main']", ".content", "#content",
}

// extractText strips boilerplate from an HTML page and returns the main
// text plus the hyperlinks found inside it.
func extractText(html string) (string, []string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", nil
	}

	doc.Find("script, style, nav, footer, header, aside, form, iframe, noscript, " +
		".sidebar, #sidebar, .ad, .advertisement, .popup, .modal, .cookie-banner").Remove()

	var text strings.Builder
	var scope *goquery.Selection
	for _, selector := range mainContentSelectors {
		if sel := doc.Find(selector); sel.Length() > 0 {
			scope = sel.First()
			break
		}
	}
	if scope == nil {
		scope = doc.Find("body")
	}

	scope.Find("p, h1, h2, h3, h4, h5, h6, li, blockquote, pre").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			text.WriteString(t)
			text.WriteString("\n\n")
		}
	})

	var urls []string
	seen := make(map[string]bool)
	scope.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if strings.HasPrefix(href, "http") && !seen[href] {
			seen[href] = true
			urls = append(urls, href)
		}
	})

	return collapse(text.String()), urls
}

// normalizeHTML flattens an HTML fragment (e.g. a feed summary) to plain
// text.
func normalizeHTML(fragment string) string {
	if fragment == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapse(fragment)
	}
	return collapse(doc.Text())
}

func collapse(text string) string {
	return strings.TrimSpace(blankLinesRe.ReplaceAllString(text, "\n\n"))
}
