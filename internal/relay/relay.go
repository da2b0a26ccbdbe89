// internal/relay/relay.go

// Package relay submits try-on requests to the broker and maps the
// outcome into user-facing results. It validates inputs locally first,
// never retries, and bounds the round trip with a client-side timeout.
package relay

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fitchecklabs/fitcheck-cli/api/schemas"
	"github.com/fitchecklabs/fitcheck-cli/internal/config"
)

// Kind discriminates the try-on outcome variants.
type Kind int

const (
	// KindSuccess carries the synthesized image.
	KindSuccess Kind = iota
	// KindFailure carries a human-readable message.
	KindFailure
	// KindAuthRequired asks the user to sign in; not a generic failure.
	KindAuthRequired
)

// ServiceUnavailableMessage is the user-facing text for an upstream 503.
const ServiceUnavailableMessage = "Virtual Try-On service is temporarily unavailable. Please try again later."

// TryOnResponse is the tagged outcome of a try-on request.
type TryOnResponse struct {
	Kind             Kind
	TryOnImageBase64 string
	Message          string
}

// Requester is the slice of the message bus the relay needs.
type Requester interface {
	Request(ctx context.Context, action schemas.Action, payload any, out any) error
}

// Client validates and relays try-on requests.
type Client struct {
	bus           Requester
	minImageBytes int
	timeout       time.Duration
	logger        *zap.Logger
}

// NewClient builds a relay client.
func NewClient(bus Requester, cfg config.RelayConfig, logger *zap.Logger) *Client {
	minBytes := cfg.MinImageBytes
	if minBytes <= 0 {
		minBytes = 100
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Client{
		bus:           bus,
		minImageBytes: minBytes,
		timeout:       timeout,
		logger:        logger.Named("relay"),
	}
}

// RequestTryOn submits the avatar and clothing payloads. Validation
// failures return a Failure response without touching the network.
func (c *Client) RequestTryOn(ctx context.Context, avatarBase64, clothingBase64, clothingURL string) TryOnResponse {
	if len(avatarBase64) < c.minImageBytes {
		return TryOnResponse{Kind: KindFailure, Message: "No avatar found. Please upload your photo first."}
	}
	if len(clothingBase64) < c.minImageBytes {
		return TryOnResponse{Kind: KindFailure, Message: "Clothing image is invalid or too small."}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reply schemas.TryOnReply
	err := c.bus.Request(reqCtx, schemas.ActionRequestVirtualTryOn, schemas.TryOnRequest{
		AvatarImageBase64:   avatarBase64,
		ClothingImageBase64: clothingBase64,
		ClothingURL:         clothingURL,
	}, &reply)
	if err != nil {
		c.logger.Warn("Try-on request transport failure.", zap.Error(err))
		return TryOnResponse{Kind: KindFailure, Message: "Could not reach the Virtual Try-On service."}
	}

	return c.mapReply(reply)
}

// mapReply converts the broker reply into the response taxonomy.
func (c *Client) mapReply(reply schemas.TryOnReply) TryOnResponse {
	if reply.RequiresAuth {
		return TryOnResponse{Kind: KindAuthRequired, Message: "Please sign in to use Virtual Try-On."}
	}
	if reply.Success && reply.TryOnImageBase64 != "" {
		return TryOnResponse{Kind: KindSuccess, TryOnImageBase64: reply.TryOnImageBase64}
	}

	switch reply.StatusCode {
	case http.StatusServiceUnavailable:
		return TryOnResponse{Kind: KindFailure, Message: ServiceUnavailableMessage}
	case http.StatusInternalServerError:
		return TryOnResponse{Kind: KindFailure, Message: "Virtual Try-On service hit an internal error. Please try again."}
	case http.StatusBadRequest:
		msg := reply.Error
		if msg == "" {
			msg = "The try-on request was rejected."
		}
		return TryOnResponse{Kind: KindFailure, Message: msg}
	case 0:
		// The broker reported failure without an HTTP status.
		msg := reply.Error
		if msg == "" {
			msg = "Virtual Try-On failed."
		}
		return TryOnResponse{Kind: KindFailure, Message: msg}
	default:
		return TryOnResponse{Kind: KindFailure, Message: fmt.Sprintf("Virtual Try-On service error (%d).", reply.StatusCode)}
	}
}
