// File: internal/profile/profile.go

// Package profile holds per-site markup knowledge: which CSS selectors
// identify product imagery and their containers on a given retailer.
// Unknown hosts fall back to a universal profile.
package profile

import (
	"net/url"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/net/html"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Placement says where the try-on affordance mounts relative to a
// matched image.
type Placement string

const (
	// PlacementOverlay floats the affordance over the image corner.
	PlacementOverlay Placement = "overlay"
	// PlacementAfter inserts the affordance after the image container.
	PlacementAfter Placement = "after"
	// PlacementBefore inserts the affordance before the image container.
	PlacementBefore Placement = "before"
)

// SiteProfile describes product-image markup for one site family.
type SiteProfile struct {
	Name               string    `json:"name"`
	ImageSelectors     []string  `json:"imageSelectors"`
	ContainerSelectors []string  `json:"containerSelectors"`
	ButtonPlacement    Placement `json:"buttonPlacement"`

	compileOnce sync.Once
	compiled    []cascadia.Sel
}

// Placement returns ButtonPlacement, mapping empty or unknown values
// to overlay.
func (p *SiteProfile) Placement() Placement {
	switch p.ButtonPlacement {
	case PlacementAfter, PlacementBefore, PlacementOverlay:
		return p.ButtonPlacement
	default:
		return PlacementOverlay
	}
}

// matchers compiles ImageSelectors lazily, skipping any selector that
// does not parse. Mirrors try/catch semantics on live DOM matching.
func (p *SiteProfile) matchers() []cascadia.Sel {
	p.compileOnce.Do(func() {
		p.compiled = make([]cascadia.Sel, 0, len(p.ImageSelectors))
		for _, raw := range p.ImageSelectors {
			sel, err := cascadia.Parse(raw)
			if err != nil {
				continue
			}
			p.compiled = append(p.compiled, sel)
		}
	})
	return p.compiled
}

// MatchesImage reports whether the node satisfies any image selector.
func (p *SiteProfile) MatchesImage(n *html.Node) bool {
	if n == nil {
		return false
	}
	for _, sel := range p.matchers() {
		if sel.Match(n) {
			return true
		}
	}
	return false
}

// SelectorsJSON serializes ImageSelectors as a JSON array for embedding
// into page-side scripts.
func (p *SiteProfile) SelectorsJSON() string {
	out, err := json.MarshalToString(p.ImageSelectors)
	if err != nil {
		return "[]"
	}
	return out
}

// ContainersJSON serializes ContainerSelectors the same way; the page
// script resolves an image's container with these before mounting the
// affordance.
func (p *SiteProfile) ContainersJSON() string {
	if len(p.ContainerSelectors) == 0 {
		return "[]"
	}
	out, err := json.MarshalToString(p.ContainerSelectors)
	if err != nil {
		return "[]"
	}
	return out
}

// Registry resolves a hostname to a SiteProfile. Lookups strip leading
// labels one at a time, so "www.amazon.co.uk" finds "amazon.co.uk" and
// then "co.uk" before giving up and returning the universal profile.
type Registry struct {
	mu        sync.RWMutex
	profiles  map[string]*SiteProfile
	universal *SiteProfile
}

// NewRegistry builds a registry preloaded with the built-in profiles.
func NewRegistry() *Registry {
	r := &Registry{
		profiles:  make(map[string]*SiteProfile),
		universal: Universal(),
	}
	r.Register("amazon.com", amazonProfile())
	r.Register("amazon.com.tr", amazonProfile())
	r.Register("amazon.co.uk", amazonProfile())
	r.Register("zara.com", zaraProfile())
	return r
}

// Register binds a host suffix to a profile, replacing any previous binding.
func (r *Registry) Register(host string, p *SiteProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[strings.ToLower(host)] = p
}

// Lookup returns the profile for the host, never nil.
func (r *Registry) Lookup(host string) *SiteProfile {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	labels := strings.Split(host, ".")
	for i := 0; i < len(labels); i++ {
		candidate := strings.Join(labels[i:], ".")
		if p, ok := r.profiles[candidate]; ok {
			return p
		}
	}
	return r.universal
}

// LookupURL is Lookup on a full page URL.
func (r *Registry) LookupURL(pageURL string) *SiteProfile {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return r.universal
	}
	return r.Lookup(u.Host)
}

// Universal returns the catch-all profile used for unrecognized sites.
func Universal() *SiteProfile {
	return &SiteProfile{
		Name: "universal",
		ImageSelectors: []string{
			`img[src*="product"]`,
			`img[alt*="model"]`,
			`img[alt*="clothing"]`,
			`img[alt*="dress"]`,
			`img[alt*="shirt"]`,
			`img[alt*="pants"]`,
			`img[alt*="shoes"]`,
			`img[alt*="jacket"]`,
			`img[alt*="elbise"]`,
			`img[alt*="gömlek"]`,
			`img[alt*="pantolon"]`,
			`img[alt*="ayakkabı"]`,
			`img[alt*="ceket"]`,
			`img[width="500"]`,
			`img[width="600"]`,
			`img[width="800"]`,
			`.product-image img`,
			`.product-detail img`,
			`.main-image img`,
			`.gallery img`,
			`.gallery-item img`,
		},
		ContainerSelectors: []string{
			`.product-image`,
			`.product-detail`,
			`.main-image`,
			`.gallery`,
			`.gallery-item`,
			`.image-container`,
			`.product-container`,
			`body`,
		},
		ButtonPlacement: PlacementOverlay,
	}
}

func amazonProfile() *SiteProfile {
	return &SiteProfile{
		Name: "amazon",
		ImageSelectors: []string{
			`#landingImage`,
			`#imgTagWrapperId img`,
			`#main-image-container img`,
			`.a-dynamic-image`,
			`#altImages img`,
		},
		ContainerSelectors: []string{
			`#imgTagWrapperId`,
			`#main-image-container`,
		},
		ButtonPlacement: PlacementAfter,
	}
}

func zaraProfile() *SiteProfile {
	return &SiteProfile{
		Name: "zara",
		ImageSelectors: []string{
			`.media-image img`,
			`.product-detail-images img`,
			`picture.media-image img`,
			`img[src*="static.zara"]`,
		},
		ContainerSelectors: []string{
			`.media-image`,
			`.product-detail-images`,
		},
		ButtonPlacement: PlacementAfter,
	}
}
