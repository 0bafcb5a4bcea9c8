// Package dedup detects duplicate articles with a fast heuristic stage and a
// semantic embedding stage, and assigns every article to a cluster.
package dedup

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/Virgo-Alpha/sentinel/internal/core"
)

// Fingerprint is the tuple heuristic dedup compares.
type Fingerprint struct {
	ArticleID       string
	URL             string // fetched URL
	CanonicalURL    string // tracking parameters removed
	NormalizedTitle string
	Domain          string // registered domain of the canonical URL
	NormalizedPath  string // URL path with dates and ids collapsed
	ContentHash     string
}

var (
	titlePrefixRe = regexp.MustCompile(`^(breaking|urgent|exclusive|update|updated|alert|just in)\s*:\s*`)
	titlePunctRe  = regexp.MustCompile(`[^\w\s]`)
	spaceRe       = regexp.MustCompile(`\s+`)
	datePathRe    = regexp.MustCompile(`/\d{4}/\d{2}/\d{2}/`)
	numPathRe     = regexp.MustCompile(`/\d+(/|$)`)
)

// NewFingerprint builds the fingerprint for a parsed article.
func NewFingerprint(a core.ParsedArticle) Fingerprint {
	canonical := a.CanonicalURL
	if canonical == "" {
		canonical = a.URL
	}
	return Fingerprint{
		ArticleID:       a.ArticleID,
		URL:             a.URL,
		CanonicalURL:    canonical,
		NormalizedTitle: NormalizeTitle(a.Title),
		Domain:          RegisteredDomain(canonical),
		NormalizedPath:  NormalizePath(canonical),
		ContentHash:     a.ContentHash,
	}
}

// FingerprintArticle builds the fingerprint for a stored article.
func FingerprintArticle(a core.Article) Fingerprint {
	rawURL := a.RawURL
	if rawURL == "" {
		rawURL = a.URL
	}
	return Fingerprint{
		ArticleID:       a.ID,
		URL:             rawURL,
		CanonicalURL:    a.URL,
		NormalizedTitle: NormalizeTitle(a.Title),
		Domain:          RegisteredDomain(a.URL),
		NormalizedPath:  NormalizePath(a.URL),
		ContentHash:     a.ContentHash,
	}
}

// NormalizeTitle lowercases, strips common urgency prefixes and punctuation,
// and collapses whitespace.
func NormalizeTitle(title string) string {
	t := strings.ToLower(strings.TrimSpace(title))
	for {
		stripped := titlePrefixRe.ReplaceAllString(t, "")
		if stripped == t {
			break
		}
		t = stripped
	}
	t = titlePunctRe.ReplaceAllString(t, "")
	t = spaceRe.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

// twoPartTLDs are second-level labels that act as public suffixes together
// with a two-letter country code (example.co.uk).
var twoPartTLDs = map[string]bool{
	"co": true, "com": true, "org": true, "net": true,
	"ac": true, "gov": true, "edu": true,
}

// RegisteredDomain extracts the registrable domain from a URL: hostname
// without subdomains, with a small allowance for co.uk-style suffixes.
func RegisteredDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	tld := labels[len(labels)-1]
	second := labels[len(labels)-2]
	if len(tld) == 2 && twoPartTLDs[second] {
		return strings.Join(labels[len(labels)-3:], ".")
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// NormalizePath collapses date segments to /DATE/ and numeric segments to
// /ID/ so that templated article URLs from the same site compare equal.
func NormalizePath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	p := datePathRe.ReplaceAllString(u.Path, "/DATE/")
	for {
		replaced := numPathRe.ReplaceAllString(p, "/ID$1")
		if replaced == p {
			break
		}
		p = replaced
	}
	return p
}

// StripTrackingParams removes common tracking query parameters, producing the
// canonical URL stored on the article.
func StripTrackingParams(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for param := range q {
		lower := strings.ToLower(param)
		if strings.HasPrefix(lower, "utm_") {
			q.Del(param)
			continue
		}
		switch lower {
		case "fbclid", "gclid", "msclkid", "mc_cid", "mc_eid", "ref", "source", "cmpid":
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String()
}
