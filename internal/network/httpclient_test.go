// File: internal/network/httpclient_test.go
package network

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(nil)
	require.NotNil(t, c)
	require.NotNil(t, c.Client)

	assert.Equal(t, DefaultRequestTimeout, c.Timeout)
	assert.Nil(t, c.CheckRedirect, "redirects are followed by default")
}

func TestNewClient_FollowsRedirects(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer final.Close()

	redirecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL, http.StatusFound)
	}))
	defer redirecting.Close()

	c := NewClient(NewDefaultClientConfig())
	resp, err := c.Get(redirecting.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image-bytes", string(body))
}

func TestNewClient_RedirectsDisabled(t *testing.T) {
	redirecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://elsewhere.invalid/", http.StatusFound)
	}))
	defer redirecting.Close()

	cfg := NewDefaultClientConfig()
	cfg.FollowRedirects = false

	c := NewClient(cfg)
	resp, err := c.Get(redirecting.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestNewClient_IgnoreTLSErrors(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	strict := NewClient(NewDefaultClientConfig())
	_, err := strict.Get(srv.URL) //nolint:bodyclose
	assert.Error(t, err, "self-signed cert must fail verification")

	cfg := NewDefaultClientConfig()
	cfg.IgnoreTLSErrors = true
	lax := NewClient(cfg)
	resp, err := lax.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestNewHTTPTransport_TLSDefaults(t *testing.T) {
	tr := NewHTTPTransport(nil)
	require.NotNil(t, tr.TLSClientConfig)
	assert.EqualValues(t, tls.VersionTLS12, tr.TLSClientConfig.MinVersion)
	assert.False(t, tr.TLSClientConfig.InsecureSkipVerify)
}

func TestNewClient_RespectsTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()

	cfg := NewDefaultClientConfig()
	cfg.RequestTimeout = 50 * time.Millisecond

	c := NewClient(cfg)
	_, err := c.Get(slow.URL) //nolint:bodyclose
	assert.Error(t, err)
}
