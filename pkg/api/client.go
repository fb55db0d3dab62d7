package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/datamap/datamap-cli/pkg/client"
	"github.com/datamap/datamap-cli/pkg/config"
	"github.com/datamap/datamap-cli/pkg/logging"
	"github.com/datamap/datamap-cli/pkg/version"
)

// Client is the authenticated DataMap API client. Metadata calls go
// through a retrying client; file transfers use a separate streaming
// client without an overall deadline.
type Client struct {
	baseURL   string
	retry     *retryablehttp.Client
	streaming *http.Client
}

// authTransport injects credential headers on every outbound request. The
// header values are held here and nowhere else; they are never logged.
type authTransport struct {
	next      http.RoundTripper
	apiKey    string
	apiSecret string
	userID    string
	tenancy   string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", t.apiKey)
	req.Header.Set("X-Api-Secret", t.apiSecret)
	if t.userID != "" {
		req.Header.Set("X-User-Id", t.userID)
	}
	if t.tenancy != "" {
		req.Header.Set("X-Datamap-Tenancies", t.tenancy)
	}
	return t.next.RoundTrip(req)
}

// Option overrides parts of client construction.
type Option func(*clientOptions)

type clientOptions struct {
	transport http.RoundTripper
}

// WithTransport substitutes the base transport. Used by tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) {
		o.transport = rt
	}
}

// NewClient builds a Client from an already-resolved configuration.
// Credentials arrive here as explicit values; nothing inside request
// logic reads ambient state.
func NewClient(cfg config.Config, opts ...Option) *Client {
	var co clientOptions
	for _, opt := range opts {
		opt(&co)
	}

	userAgent := fmt.Sprintf("datamap-cli/%s", version.GetVersion())
	clientOpts := client.Options{
		MaxRetries:     cfg.Retries,
		ConnTimeout:    cfg.ConnTimeout,
		RequestTimeout: cfg.RequestTimeout,
		Transport:      co.transport,
	}

	retry := client.NewRetryable(clientOpts, userAgent)
	retry.HTTPClient.Transport = &authTransport{
		next:      retry.HTTPClient.Transport,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		userID:    cfg.UserID,
		tenancy:   cfg.Tenancy,
	}

	streamOpts := clientOpts
	streamOpts.RequestTimeout = 0
	return &Client{
		baseURL: cfg.BaseURL,
		retry:   retry,
		// Download URLs are pre-signed; the streaming client carries no
		// credential headers.
		streaming: client.NewStreaming(streamOpts, userAgent),
	}
}

// StreamingClient returns the client used for file byte transfers.
func (c *Client) StreamingClient() *http.Client {
	return c.streaming
}

// GetDataset fetches dataset metadata by UUID.
func (c *Client) GetDataset(ctx context.Context, datasetID string) (*Dataset, error) {
	if err := validateUUID(datasetID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	var dataset Dataset
	resource := fmt.Sprintf("dataset %s", datasetID)
	if err := c.get(ctx, fmt.Sprintf("/datasets/%s", datasetID), resource, &dataset); err != nil {
		return nil, err
	}
	if err := dataset.validate(); err != nil {
		return nil, &APIError{Resource: resource, err: fmt.Errorf("%w: %w", ErrValidation, err)}
	}
	return &dataset, nil
}

// GetVersion fetches one version of a dataset, including its file list.
func (c *Client) GetVersion(ctx context.Context, datasetID, versionName string) (*Version, error) {
	if err := validateUUID(datasetID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	var envelope versionEnvelope
	resource := fmt.Sprintf("version %s/%s", datasetID, versionName)
	path := fmt.Sprintf("/datasets/%s/versions/%s", datasetID, url.PathEscape(versionName))
	if err := c.get(ctx, path, resource, &envelope); err != nil {
		return nil, err
	}
	if envelope.Version == nil {
		return nil, &APIError{Resource: resource, err: fmt.Errorf("%w: response does not contain version data", ErrValidation)}
	}
	if err := envelope.Version.validate(); err != nil {
		return nil, &APIError{Resource: resource, err: fmt.Errorf("%w: %w", ErrValidation, err)}
	}
	return envelope.Version, nil
}

// GetFileDownloadURL resolves a fresh, possibly expiring download URL for
// one file. Callers must re-invoke this before every transfer attempt and
// never reuse a URL across attempts.
func (c *Client) GetFileDownloadURL(ctx context.Context, datasetID, versionName, fileID string) (*DownloadURL, error) {
	if err := validateUUID(datasetID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := validateUUID(fileID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	var dl DownloadURL
	resource := fmt.Sprintf("file %s/%s/%s", datasetID, versionName, fileID)
	path := fmt.Sprintf("/datasets/%s/versions/%s/files/%s", datasetID, url.PathEscape(versionName), fileID)
	if err := c.get(ctx, path, resource, &dl); err != nil {
		return nil, err
	}
	if err := dl.validate(); err != nil {
		return nil, &APIError{Resource: resource, err: fmt.Errorf("%w: %w", ErrValidation, err)}
	}
	return &dl, nil
}

// HealthCheck probes API reachability with the configured credentials.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.get(ctx, "/health", "health check", nil)
}

func (c *Client) get(ctx context.Context, path, resource string, out any) error {
	logger := logging.GetLogger()
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &APIError{Resource: resource, err: fmt.Errorf("%w: %w", ErrValidation, err)}
	}

	resp, err := c.retry.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Debug().Str("path", path).Err(err).Msg("API request failed")
		return &APIError{Resource: resource, err: fmt.Errorf("%w: %w", ErrTransient, err)}
	}
	defer resp.Body.Close()

	logger.Debug().Str("path", path).Int("status", resp.StatusCode).Msg("API response")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, resource)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Resource: resource, err: fmt.Errorf("%w: malformed response: %w", ErrValidation, err)}
	}
	return nil
}

// IsBatchFatal reports whether an error must abort an entire download
// batch rather than a single task.
func IsBatchFatal(err error) bool {
	return errors.Is(err, ErrAuth)
}
