// Package apiclient is the typed HTTP client for the Brushmint backend API.
// Every response travels in a {success, data, message, error} envelope; the
// client unwraps it and surfaces failures as errors carrying the server
// message.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Client-level error values.
var (
	ErrInvalidClientConfig = errors.New("invalid api client config")
	ErrRequestRejected     = errors.New("request rejected")
	ErrUnauthorized        = errors.New("unauthorized")
)

const (
	defaultRequestTimeout = 15 * time.Second

	headerContentType   = "Content-Type"
	headerAuthorization = "Authorization"
	contentTypeJSON     = "application/json"
	bearerPrefix        = "Bearer "
)

// Client performs authenticated JSON calls against the backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying transport.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithLogger wires request logging.
func WithLogger(logger *zap.Logger) Option {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

// WithToken seeds the bearer token, e.g. from the local session cache.
func WithToken(token string) Option {
	return func(client *Client) {
		client.token = token
	}
}

// New validates the base URL and wires a Client.
func New(baseURL string, options ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrInvalidClientConfig)
	}
	client := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client, nil
}

// SetToken installs the bearer token used on subsequent requests.
func (client *Client) SetToken(token string) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.token = token
}

// Token returns the current bearer token, empty when signed out.
func (client *Client) Token() string {
	client.mu.RLock()
	defer client.mu.RUnlock()
	return client.token
}

// ClearToken drops the bearer token.
func (client *Client) ClearToken() {
	client.SetToken("")
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (client *Client) request(ctx context.Context, method string, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	request.Header.Set(headerContentType, contentTypeJSON)
	if token := client.Token(); token != "" {
		request.Header.Set(headerAuthorization, bearerPrefix+token)
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		client.logger.Debug("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode == http.StatusUnauthorized {
		// Proxies and middleware can answer 401 with an empty or non-JSON
		// body; decode what we can for the message but never mask the status.
		var wrapped envelope
		_ = json.NewDecoder(response.Body).Decode(&wrapped)
		return fmt.Errorf("%w: %s", ErrUnauthorized, serverMessage(wrapped, response.StatusCode))
	}

	var wrapped envelope
	if decodeErr := json.NewDecoder(response.Body).Decode(&wrapped); decodeErr != nil {
		return fmt.Errorf("%s %s: decode envelope: %w", method, path, decodeErr)
	}
	if response.StatusCode >= http.StatusBadRequest || !wrapped.Success {
		client.logger.Debug("request rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", response.StatusCode),
			zap.String("server_error", wrapped.Error))
		return fmt.Errorf("%w: %s", ErrRequestRejected, serverMessage(wrapped, response.StatusCode))
	}

	if out != nil && len(wrapped.Data) > 0 {
		if decodeErr := json.Unmarshal(wrapped.Data, out); decodeErr != nil {
			return fmt.Errorf("%s %s: decode data: %w", method, path, decodeErr)
		}
	}
	return nil
}

func serverMessage(wrapped envelope, statusCode int) string {
	if wrapped.Message != "" {
		return wrapped.Message
	}
	if wrapped.Error != "" {
		return wrapped.Error
	}
	return fmt.Sprintf("http %d", statusCode)
}
