package crawler

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cloudflare/ahocorasick"

	"duiwatch/internal/models"
	"duiwatch/pkg/utils"
)

// DefaultKeywords identify links to repeat-offender bulletins.
var DefaultKeywords = []string{"酒", "毒", "拒測", "累犯", "drunk", "offender", "dui"}

// Page bounds per source and run.
const (
	DefaultMaxPages = 3
	MaxPagesLimit   = 5
)

var (
	pdfLinkPattern   = regexp.MustCompile(`(?i)\.pdf($|[?#])`)
	imageLinkPattern = regexp.MustCompile(`(?i)\.(jpe?g|png|gif|bmp|webp)($|[?#])`)
	tableLinkPattern = regexp.MustCompile(`(?i)(list|detail|content|news|bulletin|cp\.aspx|\.aspx|\.php|\.html?)`)
)

// ExtractLinks returns at most src.MaxPages links on a listing page that
// look like bulletins: the element text, title, alt or href contains a
// keyword, and the target has the structure expected for the source's
// format. URLs are resolved against the page (or its <base href>) and
// deduplicated. An empty result is a normal outcome.
func ExtractLinks(html []byte, pageURL string, src models.DataSource) []models.CandidateLink {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = ref
		}
	}

	keywords := src.Keywords
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}

	matcher := newKeywordMatcher(keywords)
	structural := structuralPattern(src)
	limit := clampPages(src.MaxPages)

	seen := make(map[string]bool)

	var links []models.CandidateLink

	doc.Find("a[href], iframe[src], embed[src], object[data], img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		tag := goquery.NodeName(s)
		ref := targetAttr(s, tag)

		if ref == "" || skipRef(ref) {
			return true
		}

		text := linkText(s, tag)
		unescaped, _ := url.PathUnescape(ref)

		if !matcher.matches(text + " " + ref + " " + unescaped) {
			return true
		}

		if !structuralMatch(src.DataType, tag, ref, structural) {
			return true
		}

		abs, err := base.Parse(ref)
		if err != nil {
			return true
		}

		abs.Fragment = ""
		resolved := abs.String()

		if !utils.IsValidURL(resolved) || seen[resolved] {
			return true
		}

		seen[resolved] = true

		if text == "" {
			text = utils.BaseName(resolved)
		}

		links = append(links, models.CandidateLink{URL: resolved, Title: text})

		return len(links) < limit
	})

	return links
}

func clampPages(n int) int {
	switch {
	case n <= 0:
		return DefaultMaxPages
	case n > MaxPagesLimit:
		return MaxPagesLimit
	default:
		return n
	}
}

func targetAttr(s *goquery.Selection, tag string) string {
	var attr string

	switch tag {
	case "a":
		attr = "href"
	case "object":
		attr = "data"
	default:
		attr = "src"
	}

	v, _ := s.Attr(attr)

	return strings.TrimSpace(v)
}

func skipRef(ref string) bool {
	lower := strings.ToLower(ref)

	return strings.HasPrefix(lower, "#") ||
		strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") ||
		strings.HasPrefix(lower, "data:")
}

func linkText(s *goquery.Selection, tag string) string {
	parts := []string{}

	if tag == "a" {
		parts = append(parts, s.Text())
	}

	for _, attr := range []string{"title", "alt", "aria-label"} {
		if v, ok := s.Attr(attr); ok {
			parts = append(parts, v)
		}
	}

	if tag == "a" {
		s.Find("img[alt]").Each(func(_ int, img *goquery.Selection) {
			alt, _ := img.Attr("alt")
			parts = append(parts, alt)
		})
	}

	return utils.NormalizeWhitespace(strings.Join(parts, " "))
}

func structuralPattern(src models.DataSource) *regexp.Regexp {
	if src.LinkPattern != "" {
		if re, err := regexp.Compile(src.LinkPattern); err == nil {
			return re
		}
	}

	switch src.DataType {
	case models.DataTypePDF:
		return pdfLinkPattern
	case models.DataTypeImage:
		return imageLinkPattern
	case models.DataTypeHTMLTable, models.DataTypeHTMLList:
		return tableLinkPattern
	default:
		return nil
	}
}

func structuralMatch(dt models.DataType, tag, ref string, pattern *regexp.Regexp) bool {
	switch dt {
	case models.DataTypeImage:
		return tag == "img" || imageLinkPattern.MatchString(ref) || (pattern != nil && pattern.MatchString(ref))
	case models.DataTypePDF:
		if tag == "img" {
			return false
		}

		return pattern.MatchString(ref)
	case models.DataTypeHTMLTable, models.DataTypeHTMLList:
		if tag != "a" && tag != "iframe" {
			return false
		}

		return pattern.MatchString(ref) && !pdfLinkPattern.MatchString(ref)
	default:
		return pattern == nil || pattern.MatchString(ref)
	}
}

// keywordMatcher does case-insensitive multi-keyword search in one pass.
type keywordMatcher struct {
	m *ahocorasick.Matcher
}

func newKeywordMatcher(keywords []string) *keywordMatcher {
	normalized := make([]string, 0, len(keywords))

	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			normalized = append(normalized, kw)
		}
	}

	if len(normalized) == 0 {
		return &keywordMatcher{}
	}

	return &keywordMatcher{m: ahocorasick.NewStringMatcher(normalized)}
}

func (k *keywordMatcher) matches(text string) bool {
	if k.m == nil {
		return false
	}

	return len(k.m.Match([]byte(strings.ToLower(text)))) > 0
}
