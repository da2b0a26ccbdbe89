// File: internal/broker/safety_test.go
package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fitchecklabs/fitcheck-cli/internal/config"
)

const testAvatar = "data:image/png;base64,iVBORw0KGgo="

func newScreen(t *testing.T, endpoint string) *SafetyScreen {
	t.Helper()
	s, err := NewSafetyScreen(config.SafetyConfig{APIKey: "test-key", Endpoint: endpoint}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestNewSafetyScreenRequiresKey(t *testing.T) {
	_, err := NewSafetyScreen(config.SafetyConfig{}, zap.NewNop())
	require.Error(t, err)
}

func TestSafetyScreenVerdicts(t *testing.T) {
	ctx := context.Background()

	t.Run("safe verdict with inlined image", func(t *testing.T) {
		var got generateRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"is_safe_for_tryon\":true,\"reason\":\"clothed person\"}"}]}}]}`))
		}))
		defer srv.Close()

		v, err := newScreen(t, srv.URL).Screen(ctx, testAvatar)
		require.NoError(t, err)
		assert.True(t, v.IsSafe)
		assert.Equal(t, "clothed person", v.Reason)

		require.Len(t, got.Contents, 1)
		require.Len(t, got.Contents[0].Parts, 2)
		assert.Contains(t, got.Contents[0].Parts[0].Text, "virtual clothing try-on")
		require.NotNil(t, got.Contents[0].Parts[1].InlineData)
		assert.Equal(t, "image/png", got.Contents[0].Parts[1].InlineData.MimeType)
		assert.Equal(t, "iVBORw0KGgo=", got.Contents[0].Parts[1].InlineData.Data)
		assert.Equal(t, "application/json", got.GenerationConfig.ResponseMimeType)
	})

	t.Run("non-json text is unreadable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"I think it looks fine"}]}}]}`))
		}))
		defer srv.Close()

		_, err := newScreen(t, srv.URL).Screen(ctx, testAvatar)
		assert.ErrorIs(t, err, ErrUnreadableVerdict)
	})

	t.Run("empty candidates are unreadable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"candidates":[]}`))
		}))
		defer srv.Close()

		_, err := newScreen(t, srv.URL).Screen(ctx, testAvatar)
		assert.ErrorIs(t, err, ErrUnreadableVerdict)
	})

	t.Run("permanent api error is not retried", func(t *testing.T) {
		var calls int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls++
			http.Error(w, "bad request", http.StatusBadRequest)
		}))
		defer srv.Close()

		_, err := newScreen(t, srv.URL).Screen(ctx, testAvatar)
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("plain string rejected before any call", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			t.Error("no request expected for a non data-URL payload")
		}))
		defer srv.Close()

		_, err := newScreen(t, srv.URL).Screen(ctx, "definitely not a data url")
		require.Error(t, err)
	})
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Verdict
		wantErr bool
	}{
		{
			name: "unsafe verdict",
			raw:  `{"is_safe_for_tryon": false, "reason": "nudity"}`,
			want: Verdict{IsSafe: false, Reason: "nudity"},
		},
		{
			name: "safe verdict with whitespace",
			raw:  "\n  {\"is_safe_for_tryon\": true, \"reason\": \"ok\"}  \n",
			want: Verdict{IsSafe: true, Reason: "ok"},
		},
		{name: "missing field", raw: `{"reason":"no verdict"}`, wantErr: true},
		{name: "garbage", raw: `safe!`, wantErr: true},
		{name: "empty", raw: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVerdict(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnreadableVerdict)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitDataURL(t *testing.T) {
	mime, data, err := splitDataURL("data:image/webp;base64,QUJD")
	require.NoError(t, err)
	assert.Equal(t, "image/webp", mime)
	assert.Equal(t, "QUJD", data)

	mime, _, err = splitDataURL("data:;base64,QUJD")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime, "missing MIME defaults to jpeg")

	_, _, err = splitDataURL("http://example.com/a.png")
	require.Error(t, err)
}
