// internal/browser/page.go
package browser

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fitchecklabs/fitcheck-cli/api/schemas"
	"github.com/fitchecklabs/fitcheck-cli/internal/config"
)

// Page is one live tab. It implements schemas.Page.
type Page struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    *config.Config

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

var _ schemas.Page = (*Page)(nil)

func newPage(allocatorCtx context.Context, cfg *config.Config, logger *zap.Logger, onClose func()) (*Page, error) {
	pageID := uuid.New().String()

	ctx, cancel := chromedp.NewContext(allocatorCtx)
	return &Page{
		id:      pageID,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With(zap.String("page_id", pageID)),
		cfg:     cfg,
		onClose: onClose,
	}, nil
}

// initialize creates the target and applies session-wide settings.
func (p *Page) initialize(ctx context.Context) error {
	// Connect CDP and create the tab.
	if err := p.runActions(ctx, chromedp.ActionFunc(func(context.Context) error { return nil })); err != nil {
		return fmt.Errorf("failed to create browser target: %w", err)
	}

	var tasks chromedp.Tasks
	if p.cfg.Browser.DisableCache {
		tasks = append(tasks, network.SetCacheDisabled(true))
	}
	if len(p.cfg.Network.Headers) > 0 {
		headers := make(network.Headers)
		for k, v := range p.cfg.Network.Headers {
			headers[k] = v
		}
		tasks = append(tasks, network.SetExtraHTTPHeaders(headers))
	}
	if w, h := p.cfg.Browser.Viewport["width"], p.cfg.Browser.Viewport["height"]; w > 0 && h > 0 {
		tasks = append(tasks, chromedp.EmulateViewport(int64(w), int64(h)))
	}
	if len(tasks) == 0 {
		return nil
	}
	if err := p.runActions(ctx, tasks); err != nil {
		return fmt.Errorf("failed to run page initialization tasks: %w", err)
	}
	return nil
}

// ID returns the page session identifier.
func (p *Page) ID() string {
	return p.id
}

// Navigate loads the URL, waits for the document body, then allows the
// configured post-load quiet period for late-arriving content.
func (p *Page) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, p.cfg.Network.NavigationTimeout)
	defer cancel()

	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if p.cfg.Network.PostLoadWait > 0 {
		tasks = append(tasks, chromedp.Sleep(p.cfg.Network.PostLoadWait))
	}
	if err := p.runActions(navCtx, tasks); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

// Evaluate runs the expression in the page, awaiting promises, and
// unmarshals the result into out when non-nil.
func (p *Page) Evaluate(ctx context.Context, expression string, out any) error {
	return p.runActions(ctx, chromedp.Evaluate(expression, out,
		func(params *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
			return params.WithAwaitPromise(true)
		}))
}

// ExposeFunction installs a CDP binding callable from page JavaScript
// as window[name](payload). Bindings carry a single string argument;
// structured data crosses as JSON text.
func (p *Page) ExposeFunction(ctx context.Context, name string, handler func(payload string)) error {
	if err := p.runActions(ctx, cdpruntime.AddBinding(name)); err != nil {
		return fmt.Errorf("failed to add binding %q: %w", name, err)
	}

	chromedp.ListenTarget(p.ctx, func(ev any) {
		bound, ok := ev.(*cdpruntime.EventBindingCalled)
		if !ok || bound.Name != name {
			return
		}
		// Runs on the CDP event goroutine; a panicking handler must not
		// take the whole session down.
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Panic in exposed function handler.",
					zap.String("name", name),
					zap.Any("panic_reason", r),
					zap.String("stack", string(debug.Stack())))
			}
		}()
		handler(bound.Payload)
	})
	return nil
}

// InjectScriptPersistently registers source to run in every new
// document before any page script, surviving navigations.
func (p *Page) InjectScriptPersistently(ctx context.Context, source string) error {
	var scriptID page.ScriptIdentifier
	err := p.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		scriptID, err = page.AddScriptToEvaluateOnNewDocument(source).Do(c)
		return err
	}))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("could not inject persistent script: %w", err)
	}
	p.logger.Debug("Injected persistent script.", zap.String("scriptID", string(scriptID)))
	return nil
}

// HTML returns the current serialized document.
func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.runActions(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("capturing document: %w", err)
	}
	return html, nil
}

// URL returns the page's current location.
func (p *Page) URL(ctx context.Context) (string, error) {
	var loc string
	if err := p.runActions(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("reading location: %w", err)
	}
	return loc, nil
}

// Close tears down the tab. Safe to call more than once.
func (p *Page) Close() error {
	p.mu.Lock()
	if p.isClosed {
		p.mu.Unlock()
		return nil
	}
	p.isClosed = true
	p.mu.Unlock()

	p.logger.Debug("Closing page session.")
	if p.cancel != nil {
		p.cancel()
	}
	if p.onClose != nil {
		p.onClose()
	}
	return nil
}

// runActions executes chromedp actions bound to both the page lifetime
// and the caller's context.
func (p *Page) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// combineContext derives a context from primary that is also cancelled
// when secondary ends. The primary carries the chromedp target.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
