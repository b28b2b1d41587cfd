// Package elevenlabs implements the client for the external voice-synthesis
// service.
//
// The client covers exactly the surface the engine needs: one synthesis call
// per (voice, text) pair returning raw PCM audio, a health probe, and error
// classification so the dispatcher can tell transient failures from
// permanent ones.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lingolou/audiobook-service/internal/core"
)

// API endpoints and parameters.
const (
	apiTextToSpeech = "/v1/text-to-speech/"
	apiUser         = "/v1/user"
	paramOutput     = "output_format"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAPIKey      = "xi-api-key"
	contentTypeJSON   = "application/json"
)

// Defaults applied when a request leaves optional fields empty.
const (
	defaultLanguage = "en"
)

// Static errors.
var (
	ErrTextEmpty        = errors.New("text cannot be empty")
	ErrVoiceIDEmpty     = errors.New("voice id cannot be empty")
	ErrEmptyAudio       = errors.New("received empty audio data")
	ErrServiceUnhealthy = errors.New("voice service is not healthy")
)

// voiceSettings is the delivery-parameter block of a synthesis request.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// speechPayload is the JSON body of a synthesis request.
type speechPayload struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	LanguageCode  string        `json:"language_code,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// errorDetail is the structured error body the service returns on failure.
type errorDetail struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

// APIError is a classified failure response from the voice service.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf(
		"voice service error (HTTP %d, %s): %s",
		e.StatusCode,
		e.Status,
		e.Message,
	)
}

// Transient reports whether the failure is worth retrying: rate limiting,
// server-side errors, and request timeouts. Authentication and validation
// failures are permanent.
func (e *APIError) Transient() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}

// IsTransient classifies any error from this client for retry purposes.
// Network-level failures (connection refused, reset, context deadline on the
// per-call timeout) are transient; classified API errors use their status.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}

	// Permanent local validation failures are never retried.
	if errors.Is(err, ErrTextEmpty) || errors.Is(err, ErrVoiceIDEmpty) {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	// Everything else from the HTTP layer (timeouts, dropped connections,
	// truncated bodies) is assumed transient.
	return true
}

// Client talks to the external voice-synthesis service. It implements
// core.Synthesizer.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	modelID      string
	outputFormat string
}

// New creates a client. The baseURL includes protocol and host
// (e.g. "https://api.elevenlabs.io"); timeout applies per request.
func New(baseURL, apiKey, modelID, outputFormat string, timeout time.Duration) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		apiKey:       apiKey,
		modelID:      modelID,
		outputFormat: outputFormat,
	}
}

// Synthesize sends one synthesis request and returns the raw audio bytes in
// the client's configured output format.
func (c *Client) Synthesize(ctx context.Context, req core.SpeechRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrTextEmpty
	}

	if req.Profile.VoiceID == "" {
		return nil, ErrVoiceIDEmpty
	}

	language := req.Language
	if language == "" {
		language = defaultLanguage
	}

	payload := speechPayload{
		Text:         req.Text,
		ModelID:      c.modelID,
		LanguageCode: language,
		VoiceSettings: voiceSettings{
			Stability:       req.Profile.Stability,
			SimilarityBoost: req.Profile.SimilarityBoost,
			Style:           req.Profile.Style,
			UseSpeakerBoost: req.Profile.SpeakerBoost,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	requestURL := c.baseURL + apiTextToSpeech + url.PathEscape(req.Profile.VoiceID) +
		"?" + paramOutput + "=" + url.QueryEscape(c.outputFormat)

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		requestURL,
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAPIKey, c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach voice service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// HealthCheck verifies the service is reachable and the API key is accepted.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiUser, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	req.Header.Set(headerAPIKey, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %s", ErrServiceUnhealthy, resp.Status)
	}

	return nil
}

// parseErrorResponse decodes the service's structured error body, falling
// back to the raw body so diagnostics survive non-JSON failures.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var detail errorDetail

	err := json.NewDecoder(resp.Body).Decode(&detail)
	if err == nil && detail.Detail.Message != "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Status:     detail.Detail.Status,
			Message:    detail.Detail.Message,
		}
	}

	body, _ := io.ReadAll(resp.Body)

	return &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Message:    string(body),
	}
}
