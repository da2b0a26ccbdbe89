// File: internal/classifier/collect.go
package classifier

import (
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"github.com/fitchecklabs/fitcheck-cli/internal/profile"
)

// CollectImages walks every <img> in a static document and builds
// candidates with SelectorHit resolved against the site profile.
// Static documents only expose attribute dimensions, so those populate
// the rendered fields; natural dimensions stay zero.
func CollectImages(doc *goquery.Document, p *profile.SiteProfile) []CandidateImage {
	var out []CandidateImage
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		alt, _ := s.Attr("alt")
		c := CandidateImage{
			Source:         src,
			Alt:            alt,
			RenderedWidth:  attrInt(s, "width"),
			RenderedHeight: attrInt(s, "height"),
		}
		if p != nil {
			c.SelectorHit = p.MatchesImage(s.Get(0))
		}
		out = append(out, c)
	})
	return out
}

func attrInt(s *goquery.Selection, name string) int {
	raw, ok := s.Attr(name)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
