// File: internal/classifier/keywords.go

// Package classifier implements the page-level and image-level detection
// heuristics that decide where try-on affordances belong.
package classifier

// ClothingKeywords is the canonical multilingual (Turkish and English)
// keyword list shared by the page and image classifiers. Configuration
// may replace it wholesale but both layers always read the same list.
var ClothingKeywords = []string{
	// Turkish
	"elbise", "gömlek", "ceket", "pantolon", "etek", "t-shirt", "tişört",
	"ayakkabı", "ayakkabi", "giyim", "kıyafet", "kiyafet", "moda",
	"kadın", "erkek", "çocuk", "bebek", "unisex",
	// English
	"dress", "shirt", "jacket", "pants", "skirt", "shoes", "apparel",
	"clothing", "fashion", "blouse", "trousers", "jeans", "sweater",
	"hoodie", "coat", "blazer", "suit", "boots", "sneakers", "sandals",
	"heels", "flats", "socks", "underwear", "accessories", "bag",
	"purse", "belt", "hat", "scarf", "gloves",
}

// ExclusionKeywords mark imagery that is never a product photo: site
// chrome, ads, and UI iconography.
var ExclusionKeywords = []string{
	"logo", "icon", "avatar", "banner", "advert", "sprite", "favicon",
	"cart", "wishlist", "badge", "placeholder", "captcha", "tracking",
}

// sizeSelectorPatterns match size-picker widgets ("beden" is Turkish
// for size).
var sizeSelectorPatterns = []string{
	`[id*="size-selector"]`, `[class*="size-selector"]`,
	`[id*="beden-secimi"]`, `[class*="beden-secimi"]`,
	`select[name*="size"]`, `select[id*="beden"]`,
	`[data-testid*="size"]`, `[aria-label*="size"]`,
	`input[name*="size"]`, `input[id*="beden"]`,
}

// actionButtonPatterns match add-to-cart and buy-now style elements.
var actionButtonPatterns = []string{
	`button[class*="add-to-cart"]`, `button[class*="buy-now"]`,
	`button[class*="purchase"]`, `button[class*="order"]`,
	`a[class*="add-to-cart"]`, `a[class*="buy-now"]`,
	`[data-testid*="add-to-cart"]`, `[data-testid*="buy-now"]`,
}
