// -- cmd/components.go --
package cmd

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fitchecklabs/fitcheck-cli/internal/broker"
	"github.com/fitchecklabs/fitcheck-cli/internal/browser"
	"github.com/fitchecklabs/fitcheck-cli/internal/config"
	"github.com/fitchecklabs/fitcheck-cli/internal/messaging"
	"github.com/fitchecklabs/fitcheck-cli/internal/observability"
	"github.com/fitchecklabs/fitcheck-cli/internal/store"
)

const busBufferSize = 32

// appComponents holds the initialized services a try-on session needs.
type appComponents struct {
	Store   store.Store
	Bus     *messaging.Bus
	Broker  *broker.Broker
	Manager *browser.Manager
	Page    *browser.Page
}

// Shutdown gracefully closes all components in reverse dependency order.
func (ac *appComponents) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger := observability.GetLogger()

	if ac.Page != nil {
		if err := ac.Page.Close(); err != nil {
			logger.Warn("Error closing page", zap.Error(err))
		}
	}
	if ac.Manager != nil {
		if err := ac.Manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser manager shutdown", zap.Error(err))
		}
	}
	if ac.Bus != nil {
		ac.Bus.Shutdown()
	}
	if ac.Store != nil {
		if err := ac.Store.Close(shutdownCtx); err != nil {
			logger.Warn("Error closing store", zap.Error(err))
		}
	}
}

// newStore selects the persistence backend from store.type.
func newStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch strings.ToLower(cfg.Store.Type) {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.Store.Postgres, logger)
	default:
		return nil, fmt.Errorf("unknown store type %q (want memory or postgres)", cfg.Store.Type)
	}
}

// initializeComponents handles dependency injection for the browser-backed
// commands. withBrowser is false for commands that only touch the store
// and the broker endpoints.
func initializeComponents(ctx context.Context, cfg *config.Config, withBrowser bool) (*appComponents, error) {
	logger := observability.GetLogger()
	components := &appComponents{}

	st, err := newStore(ctx, cfg, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize store: %w", err)
	}
	components.Store = st

	components.Bus = messaging.New(logger, busBufferSize)

	var brokerOpts []broker.Option
	if cfg.Broker.Safety.Enabled && cfg.Broker.Safety.APIKey != "" {
		screen, err := broker.NewSafetyScreen(cfg.Broker.Safety, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize safety screen: %w", err)
		}
		brokerOpts = append(brokerOpts, broker.WithSafetyScreen(screen))
	}
	components.Broker = broker.New(components.Bus, st, cfg, logger, brokerOpts...)
	if err := components.Broker.RegisterHandlers(); err != nil {
		return components, fmt.Errorf("failed to register broker handlers: %w", err)
	}

	if !withBrowser {
		return components, nil
	}

	mgr, err := browser.NewManager(ctx, logger, cfg)
	if err != nil {
		return components, fmt.Errorf("failed to launch browser: %w", err)
	}
	components.Manager = mgr

	page, err := mgr.NewPage(ctx)
	if err != nil {
		return components, fmt.Errorf("failed to open page: %w", err)
	}
	components.Page = page

	return components, nil
}

// navigateAndSettle loads the target and gives dynamic pages a moment to
// render their image grids before classification runs.
func navigateAndSettle(ctx context.Context, page *browser.Page, url string, cfg *config.Config) error {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}
	if err := page.Navigate(ctx, url); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	if cfg.Network.PostLoadWait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Network.PostLoadWait):
		}
	}
	return nil
}

// writeImageFile decodes a base64 or data-URL encoded image and writes it
// to path.
func writeImageFile(encoded, path string) error {
	if idx := strings.IndexByte(encoded, ','); idx >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[idx+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("result image is not valid base64: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	return nil
}
