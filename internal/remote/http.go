package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/syncnote/internal/notes"
	"go.uber.org/zap"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultMaxResponseBytes = 64 << 20
	queryUpdatedAfter       = "updated_after"
	headerAuthorization     = "Authorization"
)

var (
	errMissingBaseURL = errors.New("base url is required")
	// ErrInvalidClientConfig indicates an unusable HTTPClient configuration.
	ErrInvalidClientConfig = errors.New("remote: invalid client config")
)

// TokenSource supplies the bearer token attached to each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

// Token returns the fixed token.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// HTTPClientConfig bundles configuration required to instantiate an HTTPClient.
type HTTPClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	// MaxResponseBytes caps a response body; zero selects 64 MiB.
	MaxResponseBytes int64
	Tokens           TokenSource
	Logger           *zap.Logger
}

// HTTPClient talks to the sync server over its JSON API.
type HTTPClient struct {
	baseURL          *url.URL
	httpClient       *http.Client
	maxResponseBytes int64
	tokens           TokenSource
	logger           *zap.Logger
}

// NewHTTPClient constructs a client with validated configuration.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	rawBase := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if rawBase == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingBaseURL)
	}
	baseURL, err := url.Parse(rawBase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("%w: base url %q must be absolute", ErrInvalidClientConfig, rawBase)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	maxResponseBytes := cfg.MaxResponseBytes
	if maxResponseBytes < 0 {
		return nil, fmt.Errorf("%w: max response bytes must not be negative", ErrInvalidClientConfig)
	}
	if maxResponseBytes == 0 {
		maxResponseBytes = defaultMaxResponseBytes
	}

	tokens := cfg.Tokens
	if tokens == nil {
		tokens = StaticToken("")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPClient{
		baseURL:          baseURL,
		httpClient:       httpClient,
		maxResponseBytes: maxResponseBytes,
		tokens:           tokens,
		logger:           logger,
	}, nil
}

func (c *HTTPClient) Create(ctx context.Context, record notes.Record) error {
	path, err := CreatePath(record)
	if err != nil {
		return err
	}
	payload, err := EncodeRecord(record)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, nil, payload, nil)
}

func (c *HTTPClient) Update(ctx context.Context, record notes.Record) error {
	path, err := ResourcePath(record.Kind(), record.Meta().ID)
	if err != nil {
		return err
	}
	payload, err := EncodeRecord(record)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, path, nil, payload, nil)
}

func (c *HTTPClient) Delete(ctx context.Context, kind notes.Kind, id string) error {
	path, err := ResourcePath(kind, id)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

func (c *HTTPClient) FetchChanges(ctx context.Context, since *time.Time) (Delta, error) {
	query := url.Values{}
	if since != nil {
		query.Set(queryUpdatedAfter, since.UTC().Format(time.RFC3339Nano))
	}
	var payload ChangesPayload
	if err := c.do(ctx, http.MethodGet, "/sync", query, nil, &payload); err != nil {
		return Delta{}, err
	}
	return payload.Delta(), nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	endpoint := c.baseURL.JoinPath(path)
	endpoint.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("remote: build %s %s: %w", method, path, err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return &Error{Message: fmt.Sprintf("token source: %v", err), kind: ErrUnauthorized}
	}
	if token != "" {
		request.Header.Set(headerAuthorization, "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return &Error{Message: err.Error(), kind: ErrUnavailable}
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, c.maxResponseBytes+1))
	if err != nil {
		return &Error{StatusCode: response.StatusCode, Message: err.Error(), kind: ErrUnavailable}
	}
	if int64(len(raw)) > c.maxResponseBytes {
		c.logger.Warn("remote response exceeds limit",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int64("limit_bytes", c.maxResponseBytes))
		return &Error{
			StatusCode: response.StatusCode,
			Message:    fmt.Sprintf("body exceeds %d bytes", c.maxResponseBytes),
			kind:       ErrResponseTooLarge,
		}
	}

	var envelope ResponseEnvelope
	var decodeErr error
	if len(bytes.TrimSpace(raw)) > 0 {
		decodeErr = json.Unmarshal(raw, &envelope)
	}

	if response.StatusCode >= http.StatusBadRequest {
		remoteErr := &Error{StatusCode: response.StatusCode, Code: envelope.ErrorCode, kind: classifyStatus(response.StatusCode)}
		if envelope.Message != nil {
			remoteErr.Message = *envelope.Message
		} else {
			remoteErr.Message = http.StatusText(response.StatusCode)
		}
		c.logger.Debug("remote request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", response.StatusCode),
			zap.String("error_code", envelope.ErrorCode))
		return remoteErr
	}
	if decodeErr != nil {
		return &Error{StatusCode: response.StatusCode, Message: fmt.Sprintf("decode envelope: %v", decodeErr), kind: ErrUnavailable}
	}
	if len(raw) > 0 && !envelope.Success {
		message := "request was not successful"
		if envelope.Message != nil {
			message = *envelope.Message
		}
		return &Error{StatusCode: response.StatusCode, Code: envelope.ErrorCode, Message: message, kind: ErrRejected}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return &Error{StatusCode: response.StatusCode, Message: fmt.Sprintf("decode data: %v", err), kind: ErrUnavailable}
	}
	return nil
}
