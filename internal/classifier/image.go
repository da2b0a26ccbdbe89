// File: internal/classifier/image.go
package classifier

import (
	"strings"

	"github.com/fitchecklabs/fitcheck-cli/internal/config"
)

// CandidateImage is a snapshot of one <img> element at scan time.
// SelectorHit is computed wherever the DOM lives (page-side element
// matching for live scans, profile matchers for static documents) so
// the acceptance logic here stays pure.
type CandidateImage struct {
	Source         string
	Alt            string
	NaturalWidth   int
	NaturalHeight  int
	RenderedWidth  int
	RenderedHeight int
	SelectorHit    bool
}

// Width prefers natural dimensions and falls back to rendered ones.
func (c CandidateImage) Width() int {
	if c.NaturalWidth > 0 {
		return c.NaturalWidth
	}
	return c.RenderedWidth
}

// Height prefers natural dimensions and falls back to rendered ones.
func (c CandidateImage) Height() int {
	if c.NaturalHeight > 0 {
		return c.NaturalHeight
	}
	return c.RenderedHeight
}

// ImageClassifier decides whether a single image is product imagery
// worth a try-on affordance.
type ImageClassifier struct {
	keywords   []string
	exclusions []string
	minWidth   int
	minHeight  int
}

// NewImageClassifier builds a classifier from configuration, falling
// back to the canonical keyword and exclusion lists when unset.
func NewImageClassifier(cfg config.ClassifierConfig) *ImageClassifier {
	keywords := cfg.ClothingKeywords
	if len(keywords) == 0 {
		keywords = ClothingKeywords
	}
	exclusions := cfg.ExclusionKeywords
	if len(exclusions) == 0 {
		exclusions = ExclusionKeywords
	}
	minW, minH := cfg.MinImageWidth, cfg.MinImageHeight
	if minW <= 0 {
		minW = 200
	}
	if minH <= 0 {
		minH = 200
	}
	return &ImageClassifier{
		keywords:   lowerAll(keywords),
		exclusions: lowerAll(exclusions),
		minWidth:   minW,
		minHeight:  minH,
	}
}

// IsProductImage is a pure predicate. Rejection short-circuits first:
// empty or inline sources, then exclusion keywords. Acceptance follows
// in decreasing precision: site selector hit, clothing keyword in
// src+alt, then the size floor.
func (ic *ImageClassifier) IsProductImage(c CandidateImage) bool {
	src := strings.ToLower(c.Source)
	alt := strings.ToLower(c.Alt)

	if src == "" {
		return false
	}
	if strings.Contains(src, "data:") || strings.Contains(src, "base64") {
		return false
	}
	if containsAny(src+" "+alt, ic.exclusions) != "" {
		return false
	}

	if c.SelectorHit {
		return true
	}
	if containsAny(src+" "+alt, ic.keywords) != "" {
		return true
	}
	return c.Width() >= ic.minWidth && c.Height() >= ic.minHeight
}
