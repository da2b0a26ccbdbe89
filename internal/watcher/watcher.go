// File: internal/watcher/watcher.go

// Package watcher keeps a live page under observation. An injected
// MutationObserver streams added images back over a CDP binding; the
// Go side classifies them, dedupes by source URL, and drives the
// try-on affordances on the page. It also owns the automatic/manual
// selection state machine switched by bus commands.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fitchecklabs/fitcheck-cli/api/schemas"
	"github.com/fitchecklabs/fitcheck-cli/internal/classifier"
	"github.com/fitchecklabs/fitcheck-cli/internal/config"
	"github.com/fitchecklabs/fitcheck-cli/internal/messaging"
	"github.com/fitchecklabs/fitcheck-cli/internal/profile"
)

const bindingName = "__fitcheckEvents"

// SettingsFunc lets the watcher re-read persisted settings on demand.
type SettingsFunc func(ctx context.Context) (schemas.SettingsRecord, error)

// TryOnFunc is invoked when the user clicks a try-on affordance. The
// src is the image's source URL. Implementations must call
// RestoreAffordance when they finish, success or not.
type TryOnFunc func(ctx context.Context, src string)

// pageImage is the wire form of one <img> snapshot sent by the
// injected script.
type pageImage struct {
	Src            string `json:"src"`
	Alt            string `json:"alt"`
	NaturalWidth   int    `json:"naturalWidth"`
	NaturalHeight  int    `json:"naturalHeight"`
	RenderedWidth  int    `json:"renderedWidth"`
	RenderedHeight int    `json:"renderedHeight"`
	SelectorHit    bool   `json:"selectorHit"`
}

func (p pageImage) candidate() classifier.CandidateImage {
	return classifier.CandidateImage{
		Source:         p.Src,
		Alt:            p.Alt,
		NaturalWidth:   p.NaturalWidth,
		NaturalHeight:  p.NaturalHeight,
		RenderedWidth:  p.RenderedWidth,
		RenderedHeight: p.RenderedHeight,
		SelectorHit:    p.SelectorHit,
	}
}

// bindingEvent is the envelope for every binding call from the page.
type bindingEvent struct {
	Type   string      `json:"type"`
	Images []pageImage `json:"images,omitempty"`
	Image  *pageImage  `json:"image,omitempty"`
	Src    string      `json:"src,omitempty"`
}

// Watcher observes one page session.
type Watcher struct {
	page    schemas.Page
	bus     *messaging.Bus
	profile *profile.SiteProfile
	images  *classifier.ImageClassifier
	cfg     config.WatcherConfig
	logger  *zap.Logger

	settings SettingsFunc
	onTryOn  TryOnFunc

	mu        sync.Mutex
	running   bool
	manual    bool
	processed map[string]struct{}
	timers    map[string]*time.Timer

	cancel  context.CancelFunc
	batchCh chan []pageImage
	wg      sync.WaitGroup
}

// Option configures optional collaborators.
type Option func(*Watcher)

// WithSettings wires the persisted-settings reader used by
// RELOAD_SETTINGS handling.
func WithSettings(fn SettingsFunc) Option {
	return func(w *Watcher) { w.settings = fn }
}

// WithTryOnHandler wires the callback invoked on affordance clicks.
func WithTryOnHandler(fn TryOnFunc) Option {
	return func(w *Watcher) { w.onTryOn = fn }
}

// New builds a watcher for the given page. The site profile decides
// which selector matches count as a classification signal.
func New(page schemas.Page, bus *messaging.Bus, prof *profile.SiteProfile, images *classifier.ImageClassifier, cfg config.WatcherConfig, logger *zap.Logger, opts ...Option) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 150 * time.Millisecond
	}
	if cfg.ScanConcurrency <= 0 {
		cfg.ScanConcurrency = 4
	}
	w := &Watcher{
		page:      page,
		bus:       bus,
		profile:   prof,
		images:    images,
		cfg:       cfg,
		logger:    logger.Named("DomWatcher"),
		processed: make(map[string]struct{}),
		timers:    make(map[string]*time.Timer),
		batchCh:   make(chan []pageImage, 16),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start injects the page runtime, performs the eager scan, and begins
// consuming mutation batches and mode commands. manual selects the
// initial operating mode.
func (w *Watcher) Start(ctx context.Context, manual bool) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watcher already running")
	}
	w.running = true
	w.manual = manual
	w.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	if err := w.page.ExposeFunction(runCtx, bindingName, func(payload string) {
		w.handleBinding(runCtx, payload)
	}); err != nil {
		cancel()
		return fmt.Errorf("exposing watcher binding: %w", err)
	}

	script := buildPageScript(bindingName, w.profile.SelectorsJSON(),
		w.profile.ContainersJSON(), string(w.profile.Placement()))
	if err := w.page.InjectScriptPersistently(runCtx, script); err != nil {
		cancel()
		return fmt.Errorf("registering watcher script: %w", err)
	}
	// The persistent script only covers future documents; install into
	// the current one directly.
	if err := w.page.Evaluate(runCtx, script, nil); err != nil {
		cancel()
		return fmt.Errorf("installing watcher script: %w", err)
	}
	if manual {
		if err := w.page.Evaluate(runCtx, `window.__fitcheckUI.setMode('manual')`, nil); err != nil {
			w.logger.Warn("Failed to enter manual mode at start.", zap.Error(err))
		}
	}

	cmds, unsubscribe := w.bus.Subscribe(
		schemas.ActionEnableManualSelection,
		schemas.ActionDisableManualSelection,
		schemas.ActionClearImageSelection,
		schemas.ActionReloadSettings,
	)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer unsubscribe()
		w.run(runCtx, cmds)
	}()

	if w.cfg.EagerScan {
		if err := w.eagerScan(runCtx); err != nil {
			w.logger.Warn("Eager image scan failed.", zap.Error(err))
		}
	}

	w.logger.Info("Watcher started.", zap.Bool("manual", manual))
	return nil
}

// Stop detaches the page observer, cancels pending debounce timers,
// and waits for the command loop to exit. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	for src, t := range w.timers {
		t.Stop()
		delete(w.timers, src)
	}
	cancel := w.cancel
	w.mu.Unlock()

	// The run context is already dead at this point, so the teardown
	// call gets its own deadline.
	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := w.page.Evaluate(ctx, `window.__fitcheckUI && window.__fitcheckUI.stop()`, nil); err != nil {
		w.logger.Debug("Page-side teardown failed.", zap.Error(err))
	}

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	w.logger.Info("Watcher stopped.")
}

// RestoreAffordance re-enables the affordance that triggered a try-on
// request. Callers invoke it in a defer around the request.
func (w *Watcher) RestoreAffordance(ctx context.Context, src string) {
	expr := fmt.Sprintf(`window.__fitcheckUI && window.__fitcheckUI.restore(%s)`, jsString(src))
	if err := w.page.Evaluate(ctx, expr, nil); err != nil {
		w.logger.Debug("Failed to restore affordance.", zap.String("src", src), zap.Error(err))
	}
}

// ProcessedCount reports how many distinct images have been accepted.
func (w *Watcher) ProcessedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.processed)
}

// Manual reports the current selection mode.
func (w *Watcher) Manual() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.manual
}

func (w *Watcher) handleBinding(ctx context.Context, payload string) {
	var ev bindingEvent
	if err := json.UnmarshalFromString(payload, &ev); err != nil {
		w.logger.Warn("Discarding malformed binding payload.", zap.Error(err))
		return
	}

	switch ev.Type {
	case "images":
		select {
		case w.batchCh <- ev.Images:
		case <-ctx.Done():
		}
	case "selected":
		if ev.Image == nil {
			return
		}
		w.notifySelection(ctx, *ev.Image)
	case "tryon":
		if w.onTryOn == nil {
			w.logger.Warn("Try-on click with no handler wired.", zap.String("src", ev.Src))
			return
		}
		go w.onTryOn(ctx, ev.Src)
	default:
		w.logger.Debug("Unknown binding event type.", zap.String("type", ev.Type))
	}
}

func (w *Watcher) notifySelection(ctx context.Context, img pageImage) {
	domain, err := w.page.URL(ctx)
	if err != nil {
		domain = ""
	}
	sel := schemas.ImageSelected{
		Src:    img.Src,
		Alt:    img.Alt,
		Domain: hostOf(domain),
		Dimensions: schemas.Dimensions{
			Width:  img.candidate().Width(),
			Height: img.candidate().Height(),
		},
	}
	if err := w.bus.Post(ctx, schemas.ActionImageSelected, sel); err != nil {
		w.logger.Warn("Failed to publish image selection.", zap.Error(err))
	}
}

// run consumes mutation batches in arrival order and applies mode
// commands. Per-image classification inside a batch runs concurrently.
func (w *Watcher) run(ctx context.Context, cmds <-chan messaging.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-w.batchCh:
			w.processBatch(ctx, batch)
		case env, ok := <-cmds:
			if !ok {
				return
			}
			w.handleCommand(ctx, env)
		}
	}
}

func (w *Watcher) processBatch(ctx context.Context, batch []pageImage) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.ScanConcurrency)
	for _, img := range batch {
		img := img
		g.Go(func() error {
			w.processImage(ctx, img)
			return nil
		})
	}
	_ = g.Wait()
}

// processImage is a no-op for images already seen; the source URL is
// the dedup key.
func (w *Watcher) processImage(ctx context.Context, img pageImage) {
	if img.Src == "" {
		return
	}

	w.mu.Lock()
	if _, seen := w.processed[img.Src]; seen {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	if !w.images.IsProductImage(img.candidate()) {
		return
	}

	w.mu.Lock()
	if _, seen := w.processed[img.Src]; seen {
		w.mu.Unlock()
		return
	}
	w.processed[img.Src] = struct{}{}
	manual := w.manual
	running := w.running
	w.mu.Unlock()

	if !running {
		return
	}

	w.logger.Debug("Accepted product image.", zap.String("src", img.Src))

	if manual {
		w.attach(ctx, img.Src)
		return
	}
	w.scheduleAttach(ctx, img.Src)
}

// scheduleAttach defers affordance creation briefly so bursts of
// loading images do not thrash layout.
func (w *Watcher) scheduleAttach(ctx context.Context, src string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if _, pending := w.timers[src]; pending {
		return
	}
	w.timers[src] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.timers, src)
		running := w.running
		w.mu.Unlock()
		if running {
			w.attach(ctx, src)
		}
	})
}

func (w *Watcher) attach(ctx context.Context, src string) {
	expr := fmt.Sprintf(`window.__fitcheckUI.attach(%s)`, jsString(src))
	if err := w.page.Evaluate(ctx, expr, nil); err != nil {
		w.logger.Warn("Failed to attach affordance.", zap.String("src", src), zap.Error(err))
	}
}

func (w *Watcher) handleCommand(ctx context.Context, env messaging.Envelope) {
	switch env.Action {
	case schemas.ActionEnableManualSelection:
		w.setManual(ctx, true)
	case schemas.ActionDisableManualSelection:
		w.setManual(ctx, false)
	case schemas.ActionClearImageSelection:
		if err := w.page.Evaluate(ctx, `window.__fitcheckUI.clearSelection()`, nil); err != nil {
			w.logger.Warn("Failed to clear selection.", zap.Error(err))
		}
	case schemas.ActionReloadSettings:
		w.reloadSettings(ctx)
	}
	w.bus.Acknowledge(env)
}

func (w *Watcher) setManual(ctx context.Context, manual bool) {
	w.mu.Lock()
	if w.manual == manual {
		w.mu.Unlock()
		return
	}
	w.manual = manual
	if manual {
		// Automatic-mode debounce timers must not fire as hover
		// affordances after the switch.
		for src, t := range w.timers {
			t.Stop()
			delete(w.timers, src)
		}
	}
	w.mu.Unlock()

	mode := "automatic"
	if manual {
		mode = "manual"
	}
	expr := fmt.Sprintf(`window.__fitcheckUI.setMode(%s)`, jsString(mode))
	if err := w.page.Evaluate(ctx, expr, nil); err != nil {
		w.logger.Warn("Failed to switch selection mode.", zap.String("mode", mode), zap.Error(err))
		return
	}
	w.logger.Info("Selection mode switched.", zap.String("mode", mode))
}

func (w *Watcher) reloadSettings(ctx context.Context) {
	if w.settings == nil {
		w.logger.Debug("No settings source wired; reload ignored.")
		return
	}
	rec, err := w.settings(ctx)
	if err != nil {
		w.logger.Warn("Failed to reload settings.", zap.Error(err))
		return
	}
	w.setManual(ctx, rec.ManualSelectionEnabled)
}

// hostOf extracts the hostname from a page URL, empty when unparsable.
func hostOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// eagerScan classifies every image already present in the document.
func (w *Watcher) eagerScan(ctx context.Context) error {
	var found []pageImage
	if err := w.page.Evaluate(ctx, `window.__fitcheckUI.collect()`, &found); err != nil {
		return fmt.Errorf("collecting existing images: %w", err)
	}
	w.logger.Debug("Eager scan collected images.", zap.Int("count", len(found)))
	w.processBatch(ctx, found)
	return nil
}
