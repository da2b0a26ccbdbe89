// File: internal/controller/controller.go

// Package controller ties one page session together: it classifies the
// page, starts the DOM watcher when the page qualifies, and runs the
// click-to-result try-on pipeline (acquire, relay, history).
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fitchecklabs/fitcheck-cli/api/schemas"
	"github.com/fitchecklabs/fitcheck-cli/internal/acquire"
	"github.com/fitchecklabs/fitcheck-cli/internal/classifier"
	"github.com/fitchecklabs/fitcheck-cli/internal/config"
	"github.com/fitchecklabs/fitcheck-cli/internal/messaging"
	"github.com/fitchecklabs/fitcheck-cli/internal/profile"
	"github.com/fitchecklabs/fitcheck-cli/internal/relay"
	"github.com/fitchecklabs/fitcheck-cli/internal/store"
	"github.com/fitchecklabs/fitcheck-cli/internal/watcher"
)

// Outcome summarizes one try-on attempt for the caller and history.
type Outcome struct {
	Src     string
	Result  relay.TryOnResponse
	Elapsed time.Duration
}

// Controller drives a single page. Each page gets its own instance;
// there is no shared singleton state between sessions.
type Controller struct {
	page   schemas.Page
	bus    *messaging.Bus
	store  store.Store
	cfg    *config.Config
	logger *zap.Logger

	profiles *profile.Registry
	pages    *classifier.PageClassifier
	images   *classifier.ImageClassifier
	acquirer *acquire.Acquirer
	relay    *relay.Client

	watcher *watcher.Watcher

	// outcomes receives one entry per completed try-on; nil disables it.
	outcomes chan<- Outcome
}

// Option configures optional collaborators.
type Option func(*Controller)

// WithOutcomeChannel streams completed try-on outcomes to the caller.
func WithOutcomeChannel(ch chan<- Outcome) Option {
	return func(c *Controller) { c.outcomes = ch }
}

// New builds a controller for one page session.
func New(page schemas.Page, bus *messaging.Bus, st store.Store, cfg *config.Config, logger *zap.Logger, opts ...Option) *Controller {
	log := logger.Named("controller")
	c := &Controller{
		page:     page,
		bus:      bus,
		store:    st,
		cfg:      cfg,
		logger:   log,
		profiles: buildRegistry(cfg.Profiles, log),
		pages:    classifier.NewPageClassifier(cfg.Classifier, logger),
		images:   classifier.NewImageClassifier(cfg.Classifier),
		acquirer: acquire.New(page, bus, cfg.Acquire, logger),
		relay:    relay.NewClient(bus, cfg.Relay, logger),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// buildRegistry extends the built-in site table with config-supplied
// profiles.
func buildRegistry(overrides []config.SiteProfileConfig, logger *zap.Logger) *profile.Registry {
	reg := profile.NewRegistry()
	for _, pc := range overrides {
		if pc.Host == "" || len(pc.ImageSelectors) == 0 {
			logger.Warn("Skipping site profile with no host or selectors", zap.String("host", pc.Host))
			continue
		}
		name := pc.Name
		if name == "" {
			name = pc.Host
		}
		reg.Register(pc.Host, &profile.SiteProfile{
			Name:               name,
			ImageSelectors:     pc.ImageSelectors,
			ContainerSelectors: pc.ContainerSelectors,
			ButtonPlacement:    profile.Placement(pc.ButtonPlacement),
		})
	}
	return reg
}

// Activate classifies the current page and, when it qualifies (or
// manual selection is enabled), starts the watcher. Returns whether
// the watcher is running.
func (c *Controller) Activate(ctx context.Context) (bool, error) {
	pageURL, err := c.page.URL(ctx)
	if err != nil {
		return false, fmt.Errorf("reading page location: %w", err)
	}

	settings, err := c.store.GetSettings(ctx)
	if err != nil {
		c.logger.Warn("Settings unavailable, using defaults.", zap.Error(err))
		settings = schemas.DefaultSettings()
	}

	accepted := false
	if settings.AutoDetectEnabled {
		html, err := c.page.HTML(ctx)
		if err != nil {
			return false, fmt.Errorf("reading document: %w", err)
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return false, fmt.Errorf("parsing document: %w", err)
		}
		accepted = c.pages.IsClothingPage(doc, pageURL)
	}

	// Manual selection works on any page; automatic mode needs the
	// classifier's blessing.
	if !accepted && !settings.ManualSelectionEnabled {
		c.logger.Info("Page does not qualify for try-on.", zap.String("url", pageURL))
		return false, nil
	}

	prof := c.profiles.LookupURL(pageURL)
	c.watcher = watcher.New(
		c.page, c.bus, prof, c.images, c.cfg.Watcher, c.logger,
		watcher.WithSettings(c.store.GetSettings),
		watcher.WithTryOnHandler(c.handleTryOnClick),
	)
	if err := c.watcher.Start(ctx, settings.ManualSelectionEnabled); err != nil {
		return false, fmt.Errorf("starting watcher: %w", err)
	}
	c.logger.Info("Page activated.",
		zap.String("url", pageURL),
		zap.Bool("classified", accepted),
		zap.Bool("manual", settings.ManualSelectionEnabled))
	return true, nil
}

// Deactivate stops the watcher. Safe without a prior Activate.
func (c *Controller) Deactivate() {
	if c.watcher != nil {
		c.watcher.Stop()
	}
}

// handleTryOnClick runs the full pipeline for one clicked image. The
// affordance that triggered it is always restored, whatever happens.
func (c *Controller) handleTryOnClick(ctx context.Context, src string) {
	started := time.Now()
	defer c.watcher.RestoreAffordance(ctx, src)

	result := c.TryOn(ctx, src)

	elapsed := time.Since(started)
	switch result.Kind {
	case relay.KindSuccess:
		c.logger.Info("Try-on succeeded.", zap.String("src", src), zap.Duration("elapsed", elapsed))
	case relay.KindAuthRequired:
		c.logger.Warn("Try-on requires sign-in.", zap.String("src", src))
	default:
		c.logger.Warn("Try-on failed.", zap.String("src", src), zap.String("message", result.Message))
	}

	if c.outcomes != nil {
		select {
		case c.outcomes <- Outcome{Src: src, Result: result, Elapsed: elapsed}:
		case <-ctx.Done():
		}
	}
}

// TryOn acquires the clothing image, submits it with the stored
// avatar, and records the attempt in history.
func (c *Controller) TryOn(ctx context.Context, src string) relay.TryOnResponse {
	avatarBase64 := ""
	avatar, err := c.store.GetAvatar(ctx)
	switch {
	case err == nil:
		avatarBase64 = avatar.Base64
	case errors.Is(err, store.ErrNotFound):
		// The relay's validation floor produces the user-facing message.
	default:
		c.logger.Warn("Avatar lookup failed.", zap.Error(err))
	}

	clothingBase64 := ""
	if avatarBase64 != "" {
		extracted, err := c.acquirer.Extract(ctx, src)
		if err != nil {
			result := relay.TryOnResponse{Kind: relay.KindFailure, Message: extractionMessage(err)}
			c.record(ctx, src, result)
			return result
		}
		clothingBase64 = extracted.DataURL
	}

	result := c.relay.RequestTryOn(ctx, avatarBase64, clothingBase64, src)
	c.record(ctx, src, result)
	return result
}

func (c *Controller) record(ctx context.Context, src string, result relay.TryOnResponse) {
	pageURL, err := c.page.URL(ctx)
	if err != nil {
		pageURL = ""
	}
	rec := schemas.TryOnRecord{
		ID:          uuid.New().String(),
		ClothingURL: src,
		PageURL:     pageURL,
		Success:     result.Kind == relay.KindSuccess,
		CreatedAt:   time.Now().UTC(),
	}
	if result.Kind != relay.KindSuccess {
		rec.Error = result.Message
	}
	if err := c.store.AddTryOn(ctx, rec); err != nil {
		c.logger.Warn("Failed to record try-on history.", zap.Error(err))
	}
}

func extractionMessage(err error) string {
	var taint *acquire.TaintError
	if errors.As(err, &taint) {
		return "Could not read the image due to cross-origin restrictions."
	}
	return fmt.Sprintf("Could not capture the clothing image: %v", err)
}
