// File: internal/broker/remoteconfig_test.go
package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fitchecklabs/fitcheck-cli/api/schemas"
	"github.com/fitchecklabs/fitcheck-cli/internal/config"
	"github.com/fitchecklabs/fitcheck-cli/internal/network"
	"github.com/fitchecklabs/fitcheck-cli/internal/store"
)

func newLoader(t *testing.T, url string, st store.Store) *RemoteConfigLoader {
	t.Helper()
	cfg := config.BrokerConfig{
		ConfigURL:       url,
		ConfigAttempts:  3,
		ConfigBaseDelay: time.Millisecond,
	}
	return NewRemoteConfigLoader(network.NewClient(network.NewDefaultClientConfig()), st, cfg, zap.NewNop())
}

func TestRemoteConfigLoader(t *testing.T) {
	ctx := context.Background()

	t.Run("retries then succeeds within the attempt budget", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) < 3 {
				http.Error(w, "flaky", http.StatusBadGateway)
				return
			}
			w.Write([]byte(`{"firebaseConfig":{"apiKey":"live-key","projectId":"live-project"}}`))
		}))
		defer srv.Close()

		st := store.NewMemoryStore()
		loader := newLoader(t, srv.URL, st)

		got, err := loader.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "live-key", got.APIKey)
		assert.Equal(t, int32(3), calls.Load())

		// A successful fetch lands in the store for the next process.
		stored, err := st.GetRemoteConfig(ctx)
		require.NoError(t, err)
		assert.Equal(t, got, stored)
	})

	t.Run("exhausted attempts fall back", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			http.Error(w, "down", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		loader := newLoader(t, srv.URL, store.NewMemoryStore())

		got, err := loader.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, fallbackRemoteConfig, got)
		assert.Equal(t, int32(3), calls.Load(), "bounded to the configured attempt count")
	})

	t.Run("store cache short-circuits the network", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			t.Error("network must not be consulted when the store has a config")
		}))
		defer srv.Close()

		st := store.NewMemoryStore()
		cached := schemas.RemoteConfig{APIKey: "cached-key", ProjectID: "cached-project"}
		require.NoError(t, st.SaveRemoteConfig(ctx, cached))

		loader := newLoader(t, srv.URL, st)
		got, err := loader.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, cached, got)
	})

	t.Run("memory cache survives store loss until invalidated", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.Write([]byte(`{"config":{"apiKey":"k2","projectId":"p2"}}`))
		}))
		defer srv.Close()

		loader := newLoader(t, srv.URL, store.NewMemoryStore())

		first, err := loader.Load(ctx)
		require.NoError(t, err)
		second, err := loader.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, int32(1), calls.Load())

		loader.Invalidate()
		// The store now has the config, so invalidation still avoids
		// another fetch.
		third, err := loader.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, first, third)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("unrecognized payload falls back without retries", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.Write([]byte(`{"unexpected":true}`))
		}))
		defer srv.Close()

		loader := newLoader(t, srv.URL, store.NewMemoryStore())

		got, err := loader.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, fallbackRemoteConfig, got)
		assert.Equal(t, int32(1), calls.Load(), "a malformed body is permanent, not transient")
	})
}
