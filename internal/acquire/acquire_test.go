// internal/acquire/acquire_test.go
package acquire

import (
	"context"
	"errors"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fitchecklabs/fitcheck-cli/api/schemas"
	"github.com/fitchecklabs/fitcheck-cli/internal/config"
)

// fakePage scripts the outcome of the in-page extraction.
type fakePage struct {
	outcome extractionOutcome
	err     error
	calls   int
}

func (f *fakePage) Evaluate(_ context.Context, _ string, out any) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	raw, err := jsoniter.Marshal(f.outcome)
	if err != nil {
		return err
	}
	return jsoniter.Unmarshal(raw, out)
}

// fakeBus scripts the broker's FETCH_IMAGE reply.
type fakeBus struct {
	reply schemas.FetchImageReply
	err   error
	calls int
}

func (f *fakeBus) Request(_ context.Context, action schemas.Action, _ any, out any) error {
	f.calls++
	if action != schemas.ActionFetchImage {
		return errors.New("unexpected action: " + string(action))
	}
	if f.err != nil {
		return f.err
	}
	raw, err := jsoniter.Marshal(f.reply)
	if err != nil {
		return err
	}
	return jsoniter.Unmarshal(raw, out)
}

func newAcquirer(t *testing.T, page *fakePage, bus *fakeBus) *Acquirer {
	t.Helper()
	return New(page, bus, config.AcquireConfig{JPEGQuality: 92}, zaptest.NewLogger(t))
}

func TestExtract_CanvasSuccess(t *testing.T) {
	page := &fakePage{outcome: extractionOutcome{OK: true, DataURL: "data:image/jpeg;base64,AAA="}}
	bus := &fakeBus{}

	res, err := newAcquirer(t, page, bus).Extract(context.Background(), "https://cdn.example.com/p/1.jpg")
	require.NoError(t, err)

	assert.Equal(t, ViaCanvas, res.Via)
	assert.Equal(t, "data:image/jpeg;base64,AAA=", res.DataURL)
	assert.Zero(t, bus.calls, "the proxy must not be consulted when the canvas path works")
}

func TestExtract_TaintedFallsBackToProxy(t *testing.T) {
	page := &fakePage{outcome: extractionOutcome{Kind: "tainted", Reason: "Tainted canvases may not be exported"}}
	bus := &fakeBus{reply: schemas.FetchImageReply{Success: true, Base64: "data:image/jpeg;base64,BBB="}}

	res, err := newAcquirer(t, page, bus).Extract(context.Background(), "https://cdn.example.com/p/2.jpg")
	require.NoError(t, err)

	assert.Equal(t, ViaProxy, res.Via)
	assert.Equal(t, "data:image/jpeg;base64,BBB=", res.DataURL)
	assert.Equal(t, 1, bus.calls)
}

func TestExtract_LoadFailureFallsBackToProxy(t *testing.T) {
	page := &fakePage{outcome: extractionOutcome{Kind: "load", Reason: "image failed to load"}}
	bus := &fakeBus{reply: schemas.FetchImageReply{Success: true, Base64: "data:image/jpeg;base64,CCC="}}

	res, err := newAcquirer(t, page, bus).Extract(context.Background(), "https://cdn.example.com/p/3.jpg")
	require.NoError(t, err)
	assert.Equal(t, ViaProxy, res.Via)
}

func TestExtract_EvaluateErrorFallsBackToProxy(t *testing.T) {
	page := &fakePage{err: errors.New("target closed")}
	bus := &fakeBus{reply: schemas.FetchImageReply{Success: true, Base64: "data:image/jpeg;base64,DDD="}}

	res, err := newAcquirer(t, page, bus).Extract(context.Background(), "https://cdn.example.com/p/4.jpg")
	require.NoError(t, err)
	assert.Equal(t, ViaProxy, res.Via)
}

func TestExtract_ProxyFailureIsTerminal(t *testing.T) {
	page := &fakePage{outcome: extractionOutcome{Kind: "tainted", Reason: "blocked"}}
	bus := &fakeBus{reply: schemas.FetchImageReply{Success: false, Error: "fetch forbidden"}}

	_, err := newAcquirer(t, page, bus).Extract(context.Background(), "https://cdn.example.com/p/5.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch forbidden")
	assert.Equal(t, 1, bus.calls, "the fallback is attempted exactly once")
}

func TestExtract_ProxyTransportErrorIsTerminal(t *testing.T) {
	page := &fakePage{outcome: extractionOutcome{Kind: "error", Reason: "draw failed"}}
	bus := &fakeBus{err: errors.New("bus is shut down")}

	_, err := newAcquirer(t, page, bus).Extract(context.Background(), "https://cdn.example.com/p/6.jpg")
	require.Error(t, err)
	assert.Equal(t, 1, bus.calls)
}

func TestTaintError_Message(t *testing.T) {
	err := &TaintError{Reason: "no CORS headers"}
	assert.Contains(t, err.Error(), "tainted")
	assert.Contains(t, err.Error(), "no CORS headers")
}
