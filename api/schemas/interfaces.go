// api/schemas/interfaces.go
package schemas

import "context"

// Page is the surface the scanner needs from a live browser tab.
// internal/browser provides the chromedp-backed implementation; tests
// substitute fakes.
type Page interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error

	// Evaluate runs the JavaScript expression in the page and
	// unmarshals its result into out. Promises are awaited. A nil out
	// discards the result.
	Evaluate(ctx context.Context, expression string, out any) error

	// ExposeFunction installs a binding callable from page JavaScript
	// as window[name](payload). The handler receives the raw string
	// argument from each call.
	ExposeFunction(ctx context.Context, name string, handler func(payload string)) error

	// InjectScriptPersistently registers source to run in every new
	// document before any page script, surviving navigations.
	InjectScriptPersistently(ctx context.Context, source string) error

	// HTML returns the current serialized document.
	HTML(ctx context.Context) (string, error)

	// URL returns the page's current location.
	URL(ctx context.Context) (string, error)

	// Close tears down the tab.
	Close() error
}
