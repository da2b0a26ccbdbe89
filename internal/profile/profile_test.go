// File: internal/profile/profile_test.go
package profile

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseDoc(t *testing.T, body string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	require.NoError(t, err)
	return doc
}

func TestRegistryLookup_SuffixLabels(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		host string
		want string
	}{
		{"amazon.com", "amazon"},
		{"www.amazon.com", "amazon"},
		{"smile.images.amazon.co.uk", "amazon"},
		{"www.zara.com", "zara"},
		{"WWW.ZARA.COM", "zara"},
		{"zara.com:8443", "zara"},
		{"example.org", "universal"},
		{"", "universal"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, r.Lookup(tc.host).Name, "host %q", tc.host)
	}
}

func TestRegistryLookupURL(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, "zara", r.LookupURL("https://www.zara.com/tr/en/dress-p123.html").Name)
	assert.Equal(t, "universal", r.LookupURL("not a url").Name)
	assert.Equal(t, "universal", r.LookupURL("https://shop.example.com/item/9").Name)
}

func TestRegistryRegister_Override(t *testing.T) {
	r := NewRegistry()
	custom := &SiteProfile{Name: "boutique", ImageSelectors: []string{`img.product`}}
	r.Register("boutique.example", custom)

	assert.Equal(t, "boutique", r.Lookup("shop.boutique.example").Name)
}

func TestMatchesImage(t *testing.T) {
	doc := parseDoc(t, `
		<html><body>
			<div class="gallery"><img id="in-gallery" src="/a.jpg"></div>
			<img id="product-src" src="/images/product/main.jpg">
			<img id="plain" src="/misc/photo.jpg">
		</body></html>`)

	p := Universal()

	inGallery := doc.Find("#in-gallery").Get(0)
	productSrc := doc.Find("#product-src").Get(0)
	plain := doc.Find("#plain").Get(0)

	assert.True(t, p.MatchesImage(inGallery))
	assert.True(t, p.MatchesImage(productSrc))
	assert.False(t, p.MatchesImage(plain))
	assert.False(t, p.MatchesImage(nil))
}

func TestMatchesImage_SkipsMalformedSelectors(t *testing.T) {
	p := &SiteProfile{
		Name:           "broken",
		ImageSelectors: []string{`img[[[`, `img[src*="ok"]`},
	}
	doc := parseDoc(t, `<html><body><img id="x" src="/ok.png"></body></html>`)

	assert.True(t, p.MatchesImage(doc.Find("#x").Get(0)))
}

func TestSelectorsJSON(t *testing.T) {
	p := &SiteProfile{ImageSelectors: []string{`img[alt*="dress"]`, `.gallery img`}}
	assert.JSONEq(t, `["img[alt*=\"dress\"]", ".gallery img"]`, p.SelectorsJSON())
}

func TestContainersJSON(t *testing.T) {
	p := &SiteProfile{ContainerSelectors: []string{`.gallery`, `#main-image-container`}}
	assert.JSONEq(t, `[".gallery", "#main-image-container"]`, p.ContainersJSON())

	empty := &SiteProfile{}
	assert.Equal(t, "[]", empty.ContainersJSON())
}

func TestPlacement(t *testing.T) {
	assert.Equal(t, PlacementOverlay, (&SiteProfile{}).Placement())
	assert.Equal(t, PlacementOverlay, (&SiteProfile{ButtonPlacement: "sideways"}).Placement())
	assert.Equal(t, PlacementAfter, (&SiteProfile{ButtonPlacement: PlacementAfter}).Placement())
	assert.Equal(t, PlacementBefore, (&SiteProfile{ButtonPlacement: PlacementBefore}).Placement())

	r := NewRegistry()
	assert.Equal(t, PlacementAfter, r.Lookup("www.amazon.com").Placement())
	assert.Equal(t, PlacementOverlay, r.Lookup("boutique.example.net").Placement())
}
