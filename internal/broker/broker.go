// File: internal/broker/broker.go

// Package broker implements the privileged side of the message
// protocol: the try-on egress call, the out-of-band image fetch used
// as the CORS fallback, auth-status checks against the shared remote
// config, and the optional avatar safety screen.
package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fitchecklabs/fitcheck-cli/api/schemas"
	"github.com/fitchecklabs/fitcheck-cli/internal/config"
	"github.com/fitchecklabs/fitcheck-cli/internal/imaging"
	"github.com/fitchecklabs/fitcheck-cli/internal/messaging"
	"github.com/fitchecklabs/fitcheck-cli/internal/network"
	"github.com/fitchecklabs/fitcheck-cli/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxProxyBodyBytes caps an out-of-band image download.
const maxProxyBodyBytes = 32 << 20

// Broker owns the privileged handlers registered on the bus.
// Image-proxy fetches and the synthesis POST run on separate clients:
// the proxy budget is seconds, while synthesis holds the connection
// open for the whole relay timeout.
type Broker struct {
	bus         *messaging.Bus
	fetchClient *network.Client
	tryOnClient *network.Client
	store       store.Store
	logger      *zap.Logger

	tryOnURL string
	proxyURL string
	limiter  *rate.Limiter

	remoteConfig *RemoteConfigLoader
	safety       *SafetyScreen
}

// Option configures optional broker collaborators.
type Option func(*Broker)

// WithHTTPClient overrides both egress clients, mainly for tests.
func WithHTTPClient(c *network.Client) Option {
	return func(b *Broker) {
		b.fetchClient = c
		b.tryOnClient = c
	}
}

// WithSafetyScreen wires an avatar safety screen. Without one,
// CHECK_AVATAR passes uploads through.
func WithSafetyScreen(s *SafetyScreen) Option {
	return func(b *Broker) { b.safety = s }
}

// New builds a broker. cfg.Relay.Endpoint is the try-on service URL;
// cfg.Broker tunes the proxy fetch and remote-config bootstrap.
func New(bus *messaging.Bus, st store.Store, cfg *config.Config, logger *zap.Logger, opts ...Option) *Broker {
	log := logger.Named("broker")

	fetchCfg := network.NewDefaultClientConfig()
	fetchCfg.RequestTimeout = cfg.Broker.ProxyTimeout
	fetchCfg.IgnoreTLSErrors = cfg.Network.IgnoreTLSErrors

	tryOnTimeout := cfg.Relay.Timeout
	if tryOnTimeout <= 0 {
		tryOnTimeout = 90 * time.Second
	}
	tryOnCfg := network.NewDefaultClientConfig()
	tryOnCfg.RequestTimeout = tryOnTimeout
	// Synthesis sends no headers until the model has rendered.
	tryOnCfg.ResponseHeaderTimeout = tryOnTimeout
	tryOnCfg.IgnoreTLSErrors = cfg.Network.IgnoreTLSErrors

	rateLimit := cfg.Broker.ProxyRateLimit
	if rateLimit <= 0 {
		rateLimit = 4.0
	}
	burst := cfg.Broker.ProxyBurst
	if burst <= 0 {
		burst = 8
	}

	b := &Broker{
		bus:         bus,
		fetchClient: network.NewClient(fetchCfg),
		tryOnClient: network.NewClient(tryOnCfg),
		store:       st,
		logger:      log,
		tryOnURL:    cfg.Relay.Endpoint,
		proxyURL:    cfg.Broker.ProxyURL,
		limiter:     rate.NewLimiter(rate.Limit(rateLimit), burst),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.remoteConfig = NewRemoteConfigLoader(b.fetchClient, st, cfg.Broker, log)
	return b
}

// RegisterHandlers installs the broker's handler set on the bus.
func (b *Broker) RegisterHandlers() error {
	handlers := map[schemas.Action]messaging.HandlerFunc{
		schemas.ActionRequestVirtualTryOn: b.handleTryOn,
		schemas.ActionFetchImage:          b.handleFetchImage,
		schemas.ActionCheckAuthStatus:     b.handleCheckAuthStatus,
		schemas.ActionCheckAvatar:         b.handleCheckAvatar,
	}
	for action, fn := range handlers {
		if err := b.bus.Handle(action, fn); err != nil {
			return fmt.Errorf("registering %s handler: %w", action, err)
		}
	}
	return nil
}

// handleTryOn forwards the try-on request to the synthesis service.
// Every outcome comes back as a reply value so the content side can
// map status codes to user-facing messages; only undecodable input is
// a handler error.
func (b *Broker) handleTryOn(ctx context.Context, payload []byte) (any, error) {
	var req schemas.TryOnRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decoding try-on request: %w", err)
	}

	// ClothingURL stays on the bus message for history/diagnostics; the
	// synthesis service takes only the two images.
	egress := struct {
		AvatarImageBase64   string `json:"avatarImageBase64"`
		ClothingImageBase64 string `json:"clothingImageBase64"`
	}{req.AvatarImageBase64, req.ClothingImageBase64}
	body, err := json.Marshal(egress)
	if err != nil {
		return nil, fmt.Errorf("encoding try-on egress body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.tryOnURL, bytes.NewReader(body))
	if err != nil {
		return schemas.TryOnReply{Success: false, Error: err.Error()}, nil
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.tryOnClient.Do(httpReq)
	if err != nil {
		b.logger.Warn("Try-on egress failed.", zap.Error(err))
		return schemas.TryOnReply{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyBodyBytes))
	if err != nil {
		return schemas.TryOnReply{Success: false, Error: err.Error(), StatusCode: resp.StatusCode}, nil
	}

	var result struct {
		TryOnImageBase64 string `json:"tryOnImageBase64"`
		Error            string `json:"error"`
	}
	// The service replies JSON on both success and failure paths, but
	// error pages may be plain text.
	decodeErr := json.Unmarshal(respBody, &result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := result.Error
		if decodeErr != nil || msg == "" {
			msg = string(respBody)
		}
		reply := schemas.TryOnReply{
			Success:    false,
			Error:      msg,
			StatusCode: resp.StatusCode,
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			reply.RequiresAuth = true
		}
		return reply, nil
	}

	if decodeErr != nil {
		return schemas.TryOnReply{Success: false, Error: "invalid service response", StatusCode: resp.StatusCode}, nil
	}
	if result.Error != "" {
		return schemas.TryOnReply{Success: false, Error: result.Error, StatusCode: resp.StatusCode}, nil
	}
	return schemas.TryOnReply{
		Success:          true,
		TryOnImageBase64: result.TryOnImageBase64,
		StatusCode:       resp.StatusCode,
	}, nil
}

// handleFetchImage fetches an image URL outside the page context.
// With a proxy configured the fetch is delegated; otherwise the broker
// downloads the bytes itself and normalizes them to a JPEG data URL.
func (b *Broker) handleFetchImage(ctx context.Context, payload []byte) (any, error) {
	var req schemas.FetchImageRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decoding fetch-image request: %w", err)
	}
	if req.ImageURL == "" {
		return schemas.FetchImageReply{Success: false, Error: "missing image URL"}, nil
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return schemas.FetchImageReply{Success: false, Error: err.Error()}, nil
	}

	if b.proxyURL != "" {
		return b.fetchViaProxyService(ctx, req.ImageURL), nil
	}
	return b.fetchDirect(ctx, req.ImageURL), nil
}

func (b *Broker) fetchViaProxyService(ctx context.Context, imageURL string) schemas.FetchImageReply {
	body, err := json.Marshal(schemas.FetchImageRequest{ImageURL: imageURL})
	if err != nil {
		return schemas.FetchImageReply{Success: false, Error: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.proxyURL, bytes.NewReader(body))
	if err != nil {
		return schemas.FetchImageReply{Success: false, Error: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.fetchClient.Do(httpReq)
	if err != nil {
		return schemas.FetchImageReply{Success: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	var result struct {
		Base64 string `json:"base64"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProxyBodyBytes)).Decode(&result); err != nil {
		return schemas.FetchImageReply{Success: false, Error: fmt.Sprintf("invalid proxy response: %v", err)}
	}
	if resp.StatusCode != http.StatusOK || result.Error != "" {
		msg := result.Error
		if msg == "" {
			msg = fmt.Sprintf("proxy returned status %d", resp.StatusCode)
		}
		return schemas.FetchImageReply{Success: false, Error: msg}
	}
	return schemas.FetchImageReply{Success: true, Base64: result.Base64}
}

func (b *Broker) fetchDirect(ctx context.Context, imageURL string) schemas.FetchImageReply {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return schemas.FetchImageReply{Success: false, Error: err.Error()}
	}
	httpReq.Header.Set("Accept", "image/*")
	httpReq.Header.Set("Accept-Encoding", "br")

	resp, err := b.fetchClient.Do(httpReq)
	if err != nil {
		b.logger.Warn("Out-of-band image fetch failed.", zap.String("url", imageURL), zap.Error(err))
		return schemas.FetchImageReply{Success: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return schemas.FetchImageReply{Success: false, Error: fmt.Sprintf("image fetch returned status %d", resp.StatusCode)}
	}

	var reader io.Reader = io.LimitReader(resp.Body, maxProxyBodyBytes)
	if resp.Header.Get("Content-Encoding") == "br" {
		reader = brotli.NewReader(reader)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return schemas.FetchImageReply{Success: false, Error: err.Error()}
	}

	dataURL, err := imaging.NormalizeToJPEG(data, imaging.DefaultJPEGQuality)
	if err != nil {
		return schemas.FetchImageReply{Success: false, Error: fmt.Sprintf("decoding fetched image: %v", err)}
	}
	return schemas.FetchImageReply{Success: true, Base64: dataURL}
}

// handleCheckAuthStatus reports whether the shared remote config has
// been bootstrapped.
func (b *Broker) handleCheckAuthStatus(ctx context.Context, _ []byte) (any, error) {
	cfg, err := b.remoteConfig.Load(ctx)
	if err != nil {
		b.logger.Warn("Remote config unavailable for auth check.", zap.Error(err))
		return schemas.AuthStatusReply{Success: true, FirebaseInitialized: false}, nil
	}
	return schemas.AuthStatusReply{Success: true, FirebaseInitialized: cfg.Initialized()}, nil
}

// handleCheckAvatar runs the uploaded avatar through the safety
// screen. An unreadable verdict is a soft failure: the reply carries
// an explicit message and no verdict either way.
func (b *Broker) handleCheckAvatar(ctx context.Context, payload []byte) (any, error) {
	var req schemas.CheckAvatarRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decoding check-avatar request: %w", err)
	}
	if req.ImageData == "" {
		return schemas.CheckAvatarReply{Success: false, Message: "No image data provided."}, nil
	}

	if b.safety == nil {
		return schemas.CheckAvatarReply{
			Success: true,
			IsSafe:  true,
			Reason:  "safety screen not available",
		}, nil
	}

	verdict, err := b.safety.Screen(ctx, req.ImageData)
	if err != nil {
		b.logger.Warn("Avatar safety screen failed.", zap.Error(err))
		return schemas.CheckAvatarReply{
			Success: false,
			Message: "Safety screen returned an unreadable response. Please try a different image.",
		}, nil
	}
	return schemas.CheckAvatarReply{
		Success: true,
		IsSafe:  verdict.IsSafe,
		Reason:  verdict.Reason,
	}, nil
}
