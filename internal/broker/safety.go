// File: internal/broker/safety.go
package broker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fitchecklabs/fitcheck-cli/internal/config"
)

// ErrUnreadableVerdict marks a classifier reply that was not a single
// well-formed verdict object. Callers decide policy; the broker never
// converts it into a safe or unsafe default.
var ErrUnreadableVerdict = errors.New("safety classifier returned an unreadable response")

// safetyRubric is the fixed single-turn instruction sent with every
// screened image.
const safetyRubric = `You are a content safety screen for a virtual clothing try-on product.
Evaluate the attached photo as a candidate user avatar. The photo is safe when it
shows a clothed person suitable as the base for dressing in different garments.
It is unsafe when it contains nudity, sexual content, minors in inappropriate
contexts, violence, or is not a photo of a person at all.
Reply with exactly one JSON object and nothing else:
{"is_safe_for_tryon": <bool>, "reason": "<short explanation>"}`

// Verdict is the classifier's reply contract.
type Verdict struct {
	IsSafe bool   `json:"is_safe_for_tryon"`
	Reason string `json:"reason"`
}

// SafetyScreen calls a Gemini-family model with the rubric and one
// inlined image.
type SafetyScreen struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewSafetyScreen builds the screen. The API key is required; the gate
// for running without one lives in the broker, not here.
func NewSafetyScreen(cfg config.SafetyConfig, logger *zap.Logger) (*SafetyScreen, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("safety screen requires an API key")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", model)
	}
	return &SafetyScreen{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.Named("safety"),
	}, nil
}

type generatePart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateRequest struct {
	Contents []struct {
		Role  string         `json:"role"`
		Parts []generatePart `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		Temperature      float64 `json:"temperature"`
		ResponseMimeType string  `json:"response_mime_type"`
	} `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []generatePart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

// Screen submits one avatar image (a data URL) and parses the verdict.
func (s *SafetyScreen) Screen(ctx context.Context, imageDataURL string) (Verdict, error) {
	mime, data, err := splitDataURL(imageDataURL)
	if err != nil {
		return Verdict{}, fmt.Errorf("invalid avatar payload: %w", err)
	}

	var req generateRequest
	req.Contents = append(req.Contents, struct {
		Role  string         `json:"role"`
		Parts []generatePart `json:"parts"`
	}{
		Role: "user",
		Parts: []generatePart{
			{Text: safetyRubric},
			{InlineData: &inlineData{MimeType: mime, Data: data}},
		},
	})
	req.GenerationConfig.Temperature = 0
	req.GenerationConfig.ResponseMimeType = "application/json"

	body, err := json.Marshal(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("encoding screen request: %w", err)
	}

	var raw string
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("building screen request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", s.apiKey)

		resp, err := s.httpClient.Do(httpReq)
		if err != nil {
			s.logger.Warn("Network error during safety screen, retrying...", zap.Error(err))
			return fmt.Errorf("executing screen request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("reading screen response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			apiErr := fmt.Errorf("safety model returned status %d: %s", resp.StatusCode, respBody)
			switch resp.StatusCode {
			case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
				return apiErr
			default:
				return backoff.Permanent(apiErr)
			}
		}

		var payload generateResponse
		if err := json.Unmarshal(respBody, &payload); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrUnreadableVerdict, err))
		}
		if len(payload.Candidates) == 0 || len(payload.Candidates[0].Content.Parts) == 0 {
			return backoff.Permanent(fmt.Errorf("%w: empty candidates", ErrUnreadableVerdict))
		}
		raw = payload.Candidates[0].Content.Parts[0].Text
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return Verdict{}, err
	}

	return parseVerdict(raw)
}

// parseVerdict insists on exactly one JSON object with the agreed
// shape. Anything else is ErrUnreadableVerdict.
func parseVerdict(raw string) (Verdict, error) {
	trimmed := strings.TrimSpace(raw)
	var v struct {
		IsSafe *bool  `json:"is_safe_for_tryon"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrUnreadableVerdict, err)
	}
	if v.IsSafe == nil {
		return Verdict{}, fmt.Errorf("%w: missing is_safe_for_tryon", ErrUnreadableVerdict)
	}
	return Verdict{IsSafe: *v.IsSafe, Reason: v.Reason}, nil
}

// splitDataURL splits a data URL into its MIME type and raw base64.
func splitDataURL(s string) (mime, data string, err error) {
	if !strings.HasPrefix(s, "data:") {
		return "", "", fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(s[len("data:"):], ",")
	if !ok {
		return "", "", fmt.Errorf("malformed data URL")
	}
	mime = strings.TrimSuffix(meta, ";base64")
	if mime == "" {
		mime = "image/jpeg"
	}
	return mime, payload, nil
}
