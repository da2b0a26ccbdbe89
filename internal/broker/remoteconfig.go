// File: internal/broker/remoteconfig.go
package broker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fitchecklabs/fitcheck-cli/api/schemas"
	"github.com/fitchecklabs/fitcheck-cli/internal/config"
	"github.com/fitchecklabs/fitcheck-cli/internal/network"
	"github.com/fitchecklabs/fitcheck-cli/internal/store"
)

// fallbackRemoteConfig keeps the broker functional when the config
// endpoint is unreachable and nothing is cached.
var fallbackRemoteConfig = schemas.RemoteConfig{
	APIKey:            "demo-api-key",
	AuthDomain:        "fitcheck-project.firebaseapp.com",
	ProjectID:         "fitcheck-project",
	StorageBucket:     "fitcheck-project.appspot.com",
	MessagingSenderID: "demo-sender",
	AppID:             "demo-app",
}

// RemoteConfigLoader fetches the shared remote config once and caches
// it in memory and in the store. Resolution order: memory, store,
// network with bounded exponential backoff, hardcoded fallback.
type RemoteConfigLoader struct {
	client   *network.Client
	store    store.Store
	url      string
	attempts int
	cfg      config.BrokerConfig
	logger   *zap.Logger

	mu     sync.Mutex
	cached *schemas.RemoteConfig
}

// NewRemoteConfigLoader builds a loader from the broker configuration.
func NewRemoteConfigLoader(client *network.Client, st store.Store, cfg config.BrokerConfig, logger *zap.Logger) *RemoteConfigLoader {
	attempts := cfg.ConfigAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &RemoteConfigLoader{
		client:   client,
		store:    st,
		url:      cfg.ConfigURL,
		attempts: attempts,
		cfg:      cfg,
		logger:   logger.Named("remote-config"),
	}
}

// Load returns the shared remote config, fetching it on first use.
// It never fails outright: exhausted retries yield the fallback.
func (l *RemoteConfigLoader) Load(ctx context.Context) (schemas.RemoteConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cached != nil {
		return *l.cached, nil
	}

	if stored, err := l.store.GetRemoteConfig(ctx); err == nil {
		l.cached = &stored
		return stored, nil
	}

	fetched, err := l.fetch(ctx)
	if err != nil {
		l.logger.Warn("Remote config endpoint failed, using fallback config.", zap.Error(err))
		cfg := fallbackRemoteConfig
		l.cached = &cfg
		return cfg, nil
	}

	if err := l.store.SaveRemoteConfig(ctx, fetched); err != nil {
		l.logger.Warn("Failed to cache remote config.", zap.Error(err))
	}
	l.cached = &fetched
	return fetched, nil
}

// Invalidate drops the memory cache; the next Load re-resolves.
func (l *RemoteConfigLoader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cached = nil
}

func (l *RemoteConfigLoader) fetch(ctx context.Context) (schemas.RemoteConfig, error) {
	var out schemas.RemoteConfig

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("building config request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := l.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetching remote config: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("reading config response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("config endpoint returned status %d: %s", resp.StatusCode, body)
		}

		// The endpoint wraps the payload under one of two keys.
		var envelope struct {
			FirebaseConfig *schemas.RemoteConfig `json:"firebaseConfig"`
			Config         *schemas.RemoteConfig `json:"config"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding config response: %w", err))
		}
		switch {
		case envelope.FirebaseConfig != nil:
			out = *envelope.FirebaseConfig
		case envelope.Config != nil:
			out = *envelope.Config
		default:
			return backoff.Permanent(fmt.Errorf("config response carries no recognized payload"))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	if l.cfg.ConfigBaseDelay > 0 {
		policy.InitialInterval = l.cfg.ConfigBaseDelay
	}
	policy.RandomizationFactor = 0
	policy.Multiplier = 2

	retries := backoff.WithMaxRetries(policy, uint64(l.attempts-1))
	if err := backoff.Retry(operation, backoff.WithContext(retries, ctx)); err != nil {
		return schemas.RemoteConfig{}, err
	}
	return out, nil
}
