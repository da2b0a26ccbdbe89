// File: internal/classifier/page.go
package classifier

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/fitchecklabs/fitcheck-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PageClassifier decides whether a page is a clothing product page at
// all. It runs once per page, before any DOM watching starts, and errs
// on the side of staying inactive.
type PageClassifier struct {
	keywords         []string
	minKeywordImages int
	log              *zap.Logger
}

// NewPageClassifier builds a classifier from configuration. An empty
// keyword list in cfg falls back to the canonical set.
func NewPageClassifier(cfg config.ClassifierConfig, logger *zap.Logger) *PageClassifier {
	keywords := cfg.ClothingKeywords
	if len(keywords) == 0 {
		keywords = ClothingKeywords
	}
	minImages := cfg.MinKeywordImages
	if minImages <= 0 {
		minImages = 2
	}
	return &PageClassifier{
		keywords:         lowerAll(keywords),
		minKeywordImages: minImages,
		log:              logger.Named("page-classifier"),
	}
}

// IsClothingPage evaluates the detection signals in order and stops at
// the first positive one: URL/title keywords, structured product data,
// size-picker widgets, commerce action buttons, then the bulk image
// keyword count.
func (pc *PageClassifier) IsClothingPage(doc *goquery.Document, pageURL string) bool {
	urlAndTitle := strings.ToLower(pageURL + " " + doc.Find("title").First().Text())
	if kw := containsAny(urlAndTitle, pc.keywords); kw != "" {
		pc.log.Debug("Clothing keyword in URL or title.", zap.String("keyword", kw))
		return true
	}

	if pc.structuredDataHit(doc) {
		pc.log.Debug("Clothing product found in structured data.")
		return true
	}

	if matchesAnySelector(doc, sizeSelectorPatterns) {
		pc.log.Debug("Size selector widget found.")
		return true
	}

	if matchesAnySelector(doc, actionButtonPatterns) {
		pc.log.Debug("Commerce action button found.")
		return true
	}

	if n := pc.keywordImageCount(doc); n >= pc.minKeywordImages {
		pc.log.Debug("Multiple clothing images found.", zap.Int("count", n))
		return true
	}

	return false
}

// structuredDataHit scans embedded JSON-LD blocks for a product or
// offer declaration that mentions a clothing keyword. Malformed blocks
// are skipped; they fail only their own signal.
func (pc *PageClassifier) structuredDataHit(doc *goquery.Document) bool {
	hit := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data any
		if err := json.UnmarshalFromString(s.Text(), &data); err != nil {
			return true
		}
		normalized, err := json.MarshalToString(data)
		if err != nil {
			return true
		}
		normalized = strings.ToLower(normalized)
		isProduct := strings.Contains(normalized, `"@type":"product"`) ||
			strings.Contains(normalized, `"@type":"offer"`)
		if isProduct && containsAny(normalized, pc.keywords) != "" {
			hit = true
			return false
		}
		return true
	})
	return hit
}

// keywordImageCount counts images whose src+alt text mentions a
// clothing keyword.
func (pc *PageClassifier) keywordImageCount(doc *goquery.Document) int {
	count := 0
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		alt, _ := s.Attr("alt")
		text := strings.ToLower(src + " " + alt)
		if containsAny(text, pc.keywords) != "" {
			count++
		}
	})
	return count
}

func matchesAnySelector(doc *goquery.Document, selectors []string) bool {
	for _, sel := range selectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

// containsAny returns the first keyword found as a substring of text,
// or "" when none match. text must already be lowercased.
func containsAny(text string, keywords []string) string {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw
		}
	}
	return ""
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
