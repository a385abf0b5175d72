// Package httpsynth implements provider.Synthesizer for vendors reachable over
// a JSON HTTP API that returns encoded audio bytes.
package httpsynth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/maauso/narration-api/internal/audio"
	"github.com/maauso/narration-api/internal/provider"
)

// Static errors for HTTP synthesizer operations.
var (
	// ErrBaseURLRequired is returned when the vendor base URL is not provided.
	ErrBaseURLRequired = errors.New("httpsynth: base URL is required")
	// ErrAPIKeyNotSet is returned when no API key was given and SYNTH_HTTP_API_KEY is not set.
	ErrAPIKeyNotSet = errors.New("httpsynth: SYNTH_HTTP_API_KEY environment variable is not set")
	// ErrTextRequired is returned when the request text is empty.
	ErrTextRequired = errors.New("httpsynth: text is required")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("httpsynth: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("httpsynth: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("httpsynth: request failed")
)

var _ provider.Synthesizer = (*Client)(nil)

// Client calls a vendor speech endpoint on behalf of one provider.
type Client struct {
	provider    provider.ID
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(c *Client) {
		c.baseBackoff = d
	}
}

// NewClient creates a synthesizer for provider id served at baseURL.
// The API key can be set via WithAPIKey. If not provided, it is read from
// SYNTH_HTTP_API_KEY.
func NewClient(id provider.ID, baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &Client{
		provider:    id,
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		maxRetries:  2,
		baseBackoff: 500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("SYNTH_HTTP_API_KEY")
	}
	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return c, nil
}

type synthesizeRequest struct {
	Provider     string            `json:"provider"`
	Text         string            `json:"text"`
	VoiceID      string            `json:"voice_id"`
	OutputFormat string            `json:"output_format"`
	Settings     provider.Settings `json:"settings"`
}

type voicesResponse struct {
	Voices []provider.VoiceInfo `json:"voices"`
}

// Synthesize renders the request text and returns the encoded audio.
func (c *Client) Synthesize(ctx context.Context, req provider.Request) (*provider.Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrTextRequired
	}

	body, err := json.Marshal(synthesizeRequest{
		Provider:     string(c.provider),
		Text:         req.Text,
		VoiceID:      req.VoiceID,
		OutputFormat: req.OutputFormat,
		Settings:     req.Settings,
	})
	if err != nil {
		return nil, fmt.Errorf("httpsynth: marshal request: %w", err)
	}

	resp, err := c.doRequestWithRetry(ctx, http.MethodPost, c.baseURL+"/v1/synthesize", body)
	if err != nil {
		return nil, err
	}
	if len(resp.body) == 0 {
		return nil, provider.ErrEmptyAudio
	}

	format := formatFromContentType(resp.contentType)
	if format == "" {
		format = audio.DetectFormat(resp.body)
	}
	if format == "" {
		format = audio.NormalizeFormat(req.OutputFormat)
	}

	return &provider.Result{Audio: resp.body, Format: format}, nil
}

// ListVoices returns the vendor voice catalog.
func (c *Client) ListVoices(ctx context.Context) ([]provider.VoiceInfo, error) {
	resp, err := c.doRequestWithRetry(ctx, http.MethodGet, c.baseURL+"/v1/voices?provider="+string(c.provider), nil)
	if err != nil {
		return nil, err
	}

	var out voicesResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, fmt.Errorf("httpsynth: unmarshal voices: %w", err)
	}
	return out.Voices, nil
}

type response struct {
	body        []byte
	contentType string
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *Client) doRequestWithRetry(ctx context.Context, method, url string, body []byte) (*response, error) {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("httpsynth: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		resp, err := c.doRequest(ctx, method, url, body)
		if err == nil {
			return resp, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("httpsynth: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *Client) doRequest(ctx context.Context, method, url string, body []byte) (*response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("httpsynth: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("httpsynth: request failed: %w", err)
		}
		return nil, &retryableError{err: fmt.Errorf("httpsynth: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("httpsynth: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return nil, &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
		}
		return nil, fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	return &response{body: respBody, contentType: resp.Header.Get("Content-Type")}, nil
}

var formatsByMediaType = map[string]string{
	"audio/mpeg":  "mp3",
	"audio/mp3":   "mp3",
	"audio/wav":   "wav",
	"audio/wave":  "wav",
	"audio/x-wav": "wav",
	"audio/ogg":   "ogg",
	"audio/flac":  "flac",
}

func formatFromContentType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return formatsByMediaType[mt]
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
