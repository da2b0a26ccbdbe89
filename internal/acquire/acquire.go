// internal/acquire/acquire.go

// Package acquire extracts product image pixels from a live page. The
// fast path draws the loaded element onto an off-screen canvas inside
// the page; any fault there falls back to exactly one broker-proxied
// fetch of the same URL.
package acquire

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fitchecklabs/fitcheck-cli/api/schemas"
	"github.com/fitchecklabs/fitcheck-cli/internal/config"
)

// Via labels which path produced the bytes.
const (
	ViaCanvas = "canvas"
	ViaProxy  = "proxy"
)

// Result is a successful acquisition: a JPEG data URL plus the path
// that produced it.
type Result struct {
	DataURL string
	Via     string
}

// TaintError marks a canvas blocked by missing cross-origin headers.
// It is the expected failure on most retail CDNs.
type TaintError struct {
	Reason string
}

func (e *TaintError) Error() string {
	return "canvas tainted by cross-origin image: " + e.Reason
}

// Requester is the slice of the message bus the acquirer needs.
type Requester interface {
	Request(ctx context.Context, action schemas.Action, payload any, out any) error
}

// Evaluator runs JavaScript in the page. *browser.Page satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, out any) error
}

// Acquirer pulls image bytes out of a page session.
type Acquirer struct {
	page    Evaluator
	bus     Requester
	quality int
	timeout time.Duration
	logger  *zap.Logger
}

// New builds an Acquirer bound to one page session.
func New(page Evaluator, bus Requester, cfg config.AcquireConfig, logger *zap.Logger) *Acquirer {
	quality := cfg.JPEGQuality
	if quality < 1 || quality > 100 {
		quality = 92
	}
	timeout := cfg.LoadTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Acquirer{
		page:    page,
		bus:     bus,
		quality: quality,
		timeout: timeout,
		logger:  logger.Named("acquire"),
	}
}

// extractionOutcome is the structured reply from the in-page script.
// Kind is one of "", "not-found", "load", "tainted", "error".
type extractionOutcome struct {
	OK      bool   `json:"ok"`
	DataURL string `json:"dataUrl"`
	Kind    string `json:"kind"`
	Reason  string `json:"reason"`
}

// Extract resolves the image with the given source URL to a JPEG data
// URL. It waits for the element's load event when necessary and never
// reads pixels from an element that has not finished loading. Any
// canvas-path fault triggers a single proxied fetch; if that also
// fails, the combined error is returned and the caller must surface it
// rather than retry.
func (a *Acquirer) Extract(ctx context.Context, src string) (Result, error) {
	outcome, err := a.extractViaCanvas(ctx, src)
	if err == nil && outcome.OK {
		a.logger.Debug("Extracted image via canvas.", zap.String("src", src))
		return Result{DataURL: outcome.DataURL, Via: ViaCanvas}, nil
	}

	var fault error
	switch {
	case err != nil:
		fault = fmt.Errorf("canvas evaluation failed: %w", err)
	case outcome.Kind == "tainted":
		fault = &TaintError{Reason: outcome.Reason}
	default:
		fault = fmt.Errorf("canvas extraction failed (%s): %s", outcome.Kind, outcome.Reason)
	}
	a.logger.Debug("Canvas path failed, falling back to proxied fetch.",
		zap.String("src", src), zap.Error(fault))

	dataURL, proxyErr := a.fetchViaProxy(ctx, src)
	if proxyErr != nil {
		return Result{}, fmt.Errorf("image acquisition failed: %w (canvas: %v)", proxyErr, fault)
	}
	return Result{DataURL: dataURL, Via: ViaProxy}, nil
}

// extractViaCanvas runs the draw-and-encode script inside the page.
// The script resolves to a structured outcome instead of throwing, so
// an Evaluate error means the page itself is gone.
func (a *Acquirer) extractViaCanvas(ctx context.Context, src string) (extractionOutcome, error) {
	script := fmt.Sprintf(canvasExtractionJS, jsString(src), a.timeout.Milliseconds(), float64(a.quality)/100.0)

	var outcome extractionOutcome
	if err := a.evaluate(ctx, script, &outcome); err != nil {
		return extractionOutcome{}, err
	}
	return outcome, nil
}

// fetchViaProxy asks the broker to fetch the URL out-of-band.
func (a *Acquirer) fetchViaProxy(ctx context.Context, src string) (string, error) {
	var reply schemas.FetchImageReply
	err := a.bus.Request(ctx, schemas.ActionFetchImage, schemas.FetchImageRequest{ImageURL: src}, &reply)
	if err != nil {
		return "", fmt.Errorf("proxied fetch: %w", err)
	}
	if !reply.Success {
		msg := reply.Error
		if msg == "" {
			msg = "proxy returned no image"
		}
		return "", fmt.Errorf("proxied fetch: %s", msg)
	}
	return reply.Base64, nil
}

func (a *Acquirer) evaluate(ctx context.Context, script string, out any) error {
	if a.page == nil {
		return fmt.Errorf("acquirer has no page bound")
	}
	return a.page.Evaluate(ctx, script, out)
}
